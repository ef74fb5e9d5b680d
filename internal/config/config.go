package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	REDIS_ADDR     string
	REDIS_PASSWORD string

	ES_URL      string
	ES_USER     string
	ES_PASSWORD string

	KAFKA_ADDRESS string

	JWT_SECRET string

	PAYSTACK_SECRET_KEY  string
	PAYSTACK_BASE_URL    string
	PAYMENT_CALLBACK_URL string

	RESTAURANT_ADDRESS string
	LOG_LEVEL          string
	LISTEN_ADDR        string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		REDIS_ADDR:     os.Getenv("REDIS_ADDR"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),

		ES_URL:      os.Getenv("ES_URL"),
		ES_USER:     os.Getenv("ES_USER"),
		ES_PASSWORD: os.Getenv("ES_PASSWORD"),

		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),

		JWT_SECRET: os.Getenv("JWT_SECRET"),

		PAYSTACK_SECRET_KEY:  os.Getenv("PAYSTACK_SECRET_KEY"),
		PAYSTACK_BASE_URL:    os.Getenv("PAYSTACK_BASE_URL"),
		PAYMENT_CALLBACK_URL: os.Getenv("PAYMENT_CALLBACK_URL"),

		RESTAURANT_ADDRESS: os.Getenv("RESTAURANT_ADDRESS"),
		LOG_LEVEL:          os.Getenv("LOG_LEVEL"),
		LISTEN_ADDR:        os.Getenv("LISTEN_ADDR"),
	}

	if config.PAYSTACK_BASE_URL == "" {
		config.PAYSTACK_BASE_URL = "https://api.paystack.co"
	}
	if config.RESTAURANT_ADDRESS == "" {
		config.RESTAURANT_ADDRESS = "No 3, Gbotifa Street, Kajola Bus Stop Imota"
	}
	if config.LISTEN_ADDR == "" {
		config.LISTEN_ADDR = ":8080"
	}

	return config, nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB_USER, c.DB_PASSWORD, c.DB_HOST, c.DB_PORT, c.DB_NAME,
	)
}
