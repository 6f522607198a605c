package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const DefaultPath = "./config/application.yaml"

type Application struct {
	Host     string   `koanf:"host"`
	Listen   string   `koanf:"listen"`
	Log      Log      `koanf:"log"`
	Google   Google   `koanf:"google"`
	Database Database `koanf:"db"`
	Sync     Sync     `koanf:"sync"`
}

type Log struct {
	// File enables a rotating log file next to stderr output. Empty disables it.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"maxsizemb"`
	MaxBackups int    `koanf:"maxbackups"`
	MaxAgeDays int    `koanf:"maxagedays"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
	CalendarId   string `koanf:"calendarid"`
}

type Database struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

type Sync struct {
	// Timezone all-day events are normalized in.
	Timezone      string   `koanf:"timezone"`
	PastDays      int      `koanf:"pastdays"`
	FutureDays    int      `koanf:"futuredays"`
	PartBreakdown bool     `koanf:"partbreakdown"`
	PartOrder     []string `koanf:"partorder"`
	// Language is a BCP 47 tag used to order parts missing from PartOrder.
	Language        string        `koanf:"language"`
	DiffMinInterval time.Duration `koanf:"diffmininterval"`
	DiffCron        string        `koanf:"diffcron"`
	RollupCron      string        `koanf:"rollupcron"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s Sync) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		log.Warnf("could not load timezone %q, using UTC: %v", s.Timezone, err)
		return time.UTC
	}
	return loc
}

func Defaults() Application {
	return Application{
		Host:   "http://localhost:3000",
		Listen: ":8181",
		Log: Log{
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			User:   "unionboard",
			Pass:   "",
			Name:   "unionboard",
			Schema: "unionboard",
		},
		Sync: Sync{
			Timezone:      "Asia/Tokyo",
			PastDays:      30,
			FutureDays:    180,
			PartBreakdown: true,
			PartOrder: []string{
				"Flute", "Oboe", "Clarinet", "Bassoon", "Saxophone",
				"Trumpet", "Horn", "Trombone", "Euphonium", "Tuba",
				"Percussion",
			},
			Language:        "ja",
			DiffMinInterval: 10 * time.Minute,
			DiffCron:        "*/15 * * * *",
			RollupCron:      "0 4 * * *",
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "UNIONBOARD_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "UNIONBOARD_")), "_", ".")
			if k == "sync.partorder" {
				return k, strings.Split(v, ",")
			}
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
