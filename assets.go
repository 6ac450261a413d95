package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	rice "github.com/GeertJohan/go.rice"
)

func newConfigFile() error {
	if _, err := os.Stat("config.toml"); !os.IsNotExist(err) {
		return errors.New("config.toml exists. Remove it to generate a new one")
	}

	sampleBox := rice.MustFindBox("static/samples")
	b, err := sampleBox.Bytes("config.toml")
	if err != nil {
		return fmt.Errorf("error reading sample config (is binary stuffed?): %v", err)
	}

	return ioutil.WriteFile("config.toml", b, 0644)
}

func newUnitFile() error {
	if _, err := os.Stat("stash.service"); !os.IsNotExist(err) {
		return errors.New("stash.service exists. Remove it to generate a new one")
	}

	sampleBox := rice.MustFindBox("static/samples")
	b, err := sampleBox.Bytes("stash.service")
	if err != nil {
		return fmt.Errorf("error reading sample unit (is binary stuffed?): %v", err)
	}

	return ioutil.WriteFile("stash.service", b, 0644)
}
