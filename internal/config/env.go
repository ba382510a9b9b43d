package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// GetenvOrDefault returns os.Getenv(key), or defaultValue when unset/blank.
func GetenvOrDefault(key string, defaultValue string) string {
	str := os.Getenv(key)
	if strings.TrimSpace(str) == "" {
		return defaultValue
	}

	return str
}

// GetenvBoolOrDefault parses os.Getenv(key) as a bool, or returns defaultValue.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	val, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return val
}

// GetenvIntOrDefault parses os.Getenv(key) as an int64, or returns defaultValue.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	val, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return val
}

var (
	localEnvOnce sync.Once
)

// LoadLocalEnv loads a .env file once per process when ENV_NAME=local (the
// default), mirroring the teacher's InitLocalEnvConfig.
func LoadLocalEnv() {
	envName := GetenvOrDefault("ENV_NAME", "local")
	if envName != "local" {
		return
	}

	localEnvOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			fmt.Println("querygate: no .env file found, using process environment")
		}
	})
}
