package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/rocketshoes-cart/internal/adapter/catalog"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/notifier"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/storage"
	"github.com/rl1809/rocketshoes-cart/internal/core/domain"
	"github.com/rl1809/rocketshoes-cart/internal/core/service"
)

const productID = 1

func main() {
	initialStock := flag.Int("stock", 20, "available stock of the product")
	totalRequests := flag.Int("requests", 50, "concurrent addProduct calls")
	latency := flag.Duration("latency", 2*time.Millisecond, "simulated catalog latency")
	flag.Parse()

	ctx := context.Background()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	// In-process catalog
	catalogServer := httptest.NewServer(catalogHandler(*initialStock, *latency))
	defer catalogServer.Close()

	snapshots := storage.NewMemoryAdapter()
	feed := notifier.NewFeed(*totalRequests)
	cartService := service.NewCartService(ctx,
		catalog.NewHTTPAdapter(catalog.DefaultConfig(catalogServer.URL), log),
		snapshots, feed, log)
	defer cartService.Close()

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := cartService.AddProduct(ctx, productID); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	fail := int(failCount.Load())
	expected := min(*totalRequests, *initialStock)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == expected && fail == *totalRequests-expected {
		fmt.Printf("PASS: Exactly %d adds succeeded, %d failed\n", success, fail)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			expected, *totalRequests-expected, success, fail)
		failed = true
	}

	// Verify the in-memory cart and the persisted snapshot agree
	amount := 0
	if line, ok := cartService.Cart().Find(productID); ok {
		amount = line.Amount
	}
	fmt.Printf("Final Cart Amount: %d\n", amount)

	raw, _, err := snapshots.Get(ctx, service.DefaultSnapshotKey)
	if err != nil {
		fmt.Printf("FAIL: read snapshot: %v\n", err)
		os.Exit(1)
	}
	persisted, err := domain.UnmarshalSnapshot(raw)
	if err != nil {
		fmt.Printf("FAIL: decode snapshot: %v\n", err)
		os.Exit(1)
	}
	persistedAmount := 0
	if line, ok := persisted.Find(productID); ok {
		persistedAmount = line.Amount
	}

	if amount == expected && persistedAmount == expected {
		fmt.Printf("PASS: Cart and snapshot hold %d units\n", expected)
	} else {
		fmt.Printf("FAIL: Expected %d units, cart has %d, snapshot has %d\n", expected, amount, persistedAmount)
		failed = true
	}

	fmt.Printf("Notifications:    %d\n", feed.Len())

	if failed {
		os.Exit(1)
	}
}

func catalogHandler(stock int, latency time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)
		writeJSON(w, domain.Product{ID: productID, Name: "Tênis de Caminhada Leve Confortável", Price: 179.9, ImageURL: "https://rocketseat-cdn.s3-sa-east-1.amazonaws.com/modulo-redux/tenis1.jpg"})
	})
	mux.HandleFunc("GET /stock/{id}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(latency)
		writeJSON(w, domain.Stock{ID: productID, Amount: stock})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
