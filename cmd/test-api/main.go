package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/extraction"
)

func main() {
	fmt.Println("🔍 Comment Ranker - Model Endpoint Test")
	fmt.Println("=======================================")

	fs := config.NewFlagSet("test-api")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client := extraction.NewClient(extraction.Options{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxRetries:  0,
		Timeout:     cfg.RequestTimeout,
		Topic:       cfg.Topic,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("\n📡 Model %s\n", cfg.Model)
	fmt.Println(strings.Repeat("-", 40))

	base := client.BaseURL()
	working := ""
	for _, candidate := range []string{base, extraction.AlternateBaseURL(base)} {
		if testEndpoint(ctx, client, candidate) && working == "" {
			working = candidate
		}
	}

	if working == "" {
		fmt.Println("\n❌ No endpoint answered")
		fmt.Println("\n💡 Check:")
		fmt.Println("   • RANKER_API_KEY (or OPENAI_API_KEY) is valid and has quota")
		fmt.Println("   • RANKER_BASE_URL points at an OpenAI-compatible service")
		fmt.Println("   • The model name is available to this key")
		os.Exit(1)
	}

	fmt.Printf("\n✅ Use --base-url %s\n", working)
}

func testEndpoint(ctx context.Context, client *extraction.Client, baseURL string) bool {
	fmt.Printf("🔸 Testing %s... ", baseURL)

	reply, err := client.Ping(ctx, baseURL)
	if err != nil {
		if extraction.IsAuthError(err) {
			fmt.Printf("🔒 AUTH FAILED: %v\n", err)
			return false
		}
		fmt.Printf("❌ ERROR: %v\n", err)
		return false
	}

	fmt.Printf("✅ SUCCESS\n")
	fmt.Printf("   📝 Reply: %q\n", extraction.Preview(reply))
	return true
}
