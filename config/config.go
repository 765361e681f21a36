package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string
	OrtLibraryPath  string
	ModelPath       string
	ModelInputName  string
	ModelOutputName string
	InputWidth      int
	InputHeight     int
	OverlayOpacity  float64 // 0..1, multiplies the mask's own alpha
	LoadRetries     int
	LoadRetryDelay  time.Duration
	FlushEvery      int // timing samples per report window
	ReportDir       string
	LogDir          string
	Debug           bool
}

// Load reads configuration from the environment, with a best-effort .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:            getEnv("ADDR", "127.0.0.1:8080"),
		OrtLibraryPath:  getEnv("ORT_LIBRARY_PATH", defaultLibraryPath()),
		ModelPath:       getEnv("MODEL_PATH", filepath.Join("models", "nnunet_xtiny.onnx")),
		ModelInputName:  getEnv("MODEL_INPUT_NAME", "input"),
		ModelOutputName: getEnv("MODEL_OUTPUT_NAME", "output"),
		InputWidth:      getEnvAsInt("MODEL_INPUT_WIDTH", 256),
		InputHeight:     getEnvAsInt("MODEL_INPUT_HEIGHT", 256),
		OverlayOpacity:  getEnvAsFloat("OVERLAY_OPACITY", 1.0),
		LoadRetries:     getEnvAsInt("MODEL_LOAD_RETRIES", 3),
		LoadRetryDelay:  time.Duration(getEnvAsInt("MODEL_LOAD_RETRY_DELAY_MS", 100)) * time.Millisecond,
		FlushEvery:      getEnvAsInt("TIMING_FLUSH_EVERY", 10),
		ReportDir:       getEnv("REPORT_DIR", filepath.Join(".", "reports")),
		LogDir:          getEnv("LOG_DIR", filepath.Join(".", "logs")),
		Debug:           os.Getenv("DEBUG") == "true",
	}
}

func defaultLibraryPath() string {
	switch {
	case fileExists("/usr/local/lib/libonnxruntime.so"):
		return "/usr/local/lib/libonnxruntime.so"
	case fileExists("/usr/lib/libonnxruntime.so"):
		return "/usr/lib/libonnxruntime.so"
	default:
		return filepath.Join("lib", "libonnxruntime.so")
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
