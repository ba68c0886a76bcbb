package config

import (
	"os"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
)

// Хранилища, которые умеет поднимать сервер.
const (
	StorageInMemory = "in-memory"
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
)

// Config - настройки сервера из окружения и .env.
type Config struct {
	Port             string
	Storage          string
	MongoURI         string
	MongoDB          string
	PostgresDSN      string
	JWTSecret        string
	CloudinaryCloud  string
	CloudinaryPreset string
}

// LoadConfig читает .env (если он есть) и переменные окружения.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		glog.Warningf("[config] .env not loaded: %v", err)
	}
	return fromEnv()
}

func fromEnv() Config {
	return Config{
		Port:             getEnv("PORT", "8080"),
		Storage:          getEnv("STORAGE", StorageInMemory),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDB:          getEnv("MONGO_DB", "campus"),
		PostgresDSN:      getEnv("DATABASE_URL", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		CloudinaryCloud:  getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
