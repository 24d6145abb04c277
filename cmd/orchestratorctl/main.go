// Copyright 2016-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command orchestratorctl is a small operator CLI against a running
// orchestratord's administrative HTTP surface.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

var server string

func get(path string) ([]byte, error) {
	resp, err := http.Get(server + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ioutil.ReadAll(resp.Body)
}

func post(path string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(server+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return ioutil.ReadAll(resp.Body)
}

var queueCmd = cli.Command{
	Name:  "queue",
	Usage: "print the current queue and server counts",
	Action: func(c *cli.Context) error {
		body, err := get("/queue")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var serversCmd = cli.Command{
	Name:  "servers",
	Usage: "list connected game servers",
	Action: func(c *cli.Context) error {
		body, err := get("/servers")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var forceAssignCmd = cli.Command{
	Name:  "force-assign",
	Usage: "nudge the assignment engine outside its regular tick",
	Action: func(c *cli.Context) error {
		_, err := post("/force-assign", nil)
		return err
	},
}

var createPlanetCmd = cli.Command{
	Name:  "create-planet",
	Usage: "create a new planet",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "planet-id"},
		cli.IntFlag{Name: "season-id"},
		cli.IntFlag{Name: "round-id"},
	},
	Action: func(c *cli.Context) error {
		body, err := post("/planet/create", map[string]interface{}{
			"planet_id": c.String("planet-id"),
			"season_id": c.Int("season-id"),
			"round_id":  c.Int("round-id"),
		})
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Usage = "operate a running orchestratord"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "server",
			Value:       "http://localhost:5932",
			Usage:       "base URL of the orchestratord administrative HTTP surface",
			Destination: &server,
		},
	}
	app.Commands = []cli.Command{
		queueCmd,
		serversCmd,
		forceAssignCmd,
		createPlanetCmd,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
