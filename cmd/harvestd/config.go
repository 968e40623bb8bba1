package main

import (
	"docharvest/lib/alert"
	configsqlite "docharvest/lib/configutil/sqlite"
	"docharvest/services/pipeline"
)

type Config struct {
	Database configsqlite.Struct `json:"database"`
	Pipeline pipeline.Config     `json:"pipeline"`
	Email    alert.EmailConfig   `json:"email"`
	// Workers is the amount of resumed harvests that may run at once.
	Workers int `json:"workers"`
	// StatusPort serves /status, 0 disables it.
	StatusPort int `json:"status_port"`
}
