package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"shredlead/cmd"
	"shredlead/config"
	"shredlead/logger"
)

func initEnv() {
	if err := godotenv.Load(config.ConfigPath + ".env"); err != nil {
		logger.GlobalLogger.Error("Error reading .env file, if you don't have one, please create one from .env-example", "err", err)
	}
	viper.AutomaticEnv()
}

func main() {
	initEnv()
	if err := cmd.RootCmd.Execute(); err != nil {
		logger.GlobalLogger.Error("Error executing command", "err", err)
	}

	logger.CloseAll()
}
