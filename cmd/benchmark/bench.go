package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

// Load driver for a running server. Cache hit ratio is controlled with
// -unique: prompts cycle through that many distinct values, so unique=1
// exercises the cache and dedup path while a large value forces provider
// calls.
func main() {
	url := flag.String("url", "http://localhost:8080/v1/generate", "Generate endpoint URL")
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	unique := flag.Int("unique", 100, "Number of distinct prompts to cycle through")
	apiKey := flag.String("api-key", "", "Bearer token, if the server requires one")
	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	targeter := func(t *vegeta.Target) error {
		prompt := fmt.Sprintf("a watercolor fox, variant %d", rng.Intn(*unique))
		t.Method = "POST"
		t.URL = *url
		t.Body = []byte(`{
			"schema_version": "2.0",
			"model": "flux-dev",
			"media_type": "image",
			"prompt": ` + strconv.Quote(prompt) + `,
			"parameters": {"width": 1024, "height": 1024}
		}`)
		t.Header = http.Header{
			"Content-Type": []string{"application/json"},
		}
		if *apiKey != "" {
			t.Header.Set("Authorization", "Bearer "+*apiKey)
		}
		return nil
	}

	fmt.Printf("Attacking %s: %s duration, %d req/s, %d unique prompts\n", *url, *duration, *rate, *unique)

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "generate") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Errors (first 5 unique):")
		seen := make(map[string]bool)
		for _, msg := range metrics.Errors {
			if seen[msg] || len(seen) >= 5 {
				continue
			}
			fmt.Println(" ", msg)
			seen[msg] = true
		}
	}
}
