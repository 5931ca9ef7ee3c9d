package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numTraders     = 6
	ordersPerUser  = 25
	cancelOneIn    = 5 // roughly every fifth resting order gets cancelled
	serverAddress  = "http://localhost:8080"
	requestTimeout = 10 * time.Second
)

var symbols = []string{"BTC", "ETH"}

// Reference prices the random walk oscillates around.
var basePrices = map[string]float64{
	"BTC": 50000,
	"ETH": 3000,
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median and p95 from recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p95 = rs.durations[p95idx]

	return
}

// trader is one simulated account with its own authenticated client
type trader struct {
	name  string
	email string
	token string
}

// simulationClient handles HTTP communication with the exchange API
type simulationClient struct {
	baseURL string
	client  *http.Client
	mu      sync.Mutex
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: requestTimeout},
		stats: map[string]*routeStats{
			"register": {name: "Register"},
			"place":    {name: "Place Order"},
			"cancel":   {name: "Cancel Order"},
			"book":     {name: "Order Book"},
		},
	}
}

func (sc *simulationClient) record(route string, d time.Duration, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(d)
	if failed {
		rs.failures++
	}
}

// doJSON sends a JSON request and decodes the standard response envelope.
func (sc *simulationClient) doJSON(method, path, token string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return nil, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return envelope.Data, nil
}

// register creates a trader account and returns its token
func (sc *simulationClient) register(name, email string) (string, error) {
	start := time.Now()
	data, err := sc.doJSON(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "simulation-password",
	})
	sc.record("register", time.Since(start), err != nil)
	if err != nil {
		return "", err
	}

	token, ok := data["token"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("missing token in register response")
	}
	jwt, _ := token["jwt_token"].(string)
	if jwt == "" {
		return "", fmt.Errorf("empty jwt in register response")
	}
	return jwt, nil
}

// placeOrder submits a random limit order and returns the order id and
// whether it traded immediately
func (sc *simulationClient) placeOrder(t *trader, symbol, side string, price, amount float64) (string, bool, error) {
	start := time.Now()
	data, err := sc.doJSON(http.MethodPost, "/api/v1/orders", t.token, map[string]interface{}{
		"symbol": symbol,
		"side":   side,
		"price":  fmt.Sprintf("%.8f", price),
		"amount": fmt.Sprintf("%.8f", amount),
	})
	sc.record("place", time.Since(start), err != nil)
	if err != nil {
		return "", false, err
	}

	order, _ := data["order"].(map[string]interface{})
	orderID, _ := order["order_id"].(string)
	_, traded := data["trade"].(map[string]interface{})
	return orderID, traded, nil
}

func (sc *simulationClient) cancelOrder(t *trader, orderID string) error {
	start := time.Now()
	_, err := sc.doJSON(http.MethodDelete, "/api/v1/orders/"+orderID, t.token, nil)
	sc.record("cancel", time.Since(start), err != nil)
	return err
}

func (sc *simulationClient) fetchOrderBook(t *trader, symbol string) error {
	start := time.Now()
	_, err := sc.doJSON(http.MethodGet, "/api/v1/orderbook?symbol="+symbol, t.token, nil)
	sc.record("book", time.Since(start), err != nil)
	return err
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("Route performance")
	fmt.Println(strings.Repeat("-", 72))
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95 := rs.calculate()
		fmt.Printf("%-14s calls=%-4d failures=%-3d min=%-10v max=%-10v mean=%-10v median=%-10v p95=%v\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95)
	}
	fmt.Println(strings.Repeat("=", 72))
}

// runTrader drives one account: places randomized orders near the reference
// price so that a healthy share of them cross and match, occasionally
// cancelling a resting order or fetching the book.
func runTrader(t *trader, sc *simulationClient, wg *sync.WaitGroup, counters *simCounters) {
	defer wg.Done()

	var resting []string
	holdings := map[string]float64{}

	for i := 0; i < ordersPerUser; i++ {
		symbol := symbols[rand.Intn(len(symbols))]

		// Amounts from a tiny fixed set so exact-amount matches are common.
		amount := []float64{0.1, 0.25, 0.5}[rand.Intn(3)]
		price := basePrices[symbol] * (1 + (rand.Float64()*0.02 - 0.01))

		// Fresh accounts hold only fiat, so sell only what earlier buys
		// brought in. Estimated holdings lag matched sells that are still
		// resting; the exchange rejects any oversell, which is fine here.
		side := "buy"
		if holdings[symbol] >= amount && rand.Intn(2) == 0 {
			side = "sell"
		}

		orderID, traded, err := sc.placeOrder(t, symbol, side, price, amount)
		if err != nil {
			counters.add(func(c *counts) { c.rejected++ })
			log.Debug().Err(err).Str("trader", t.name).Msg("order rejected")
			continue
		}

		if side == "buy" && traded {
			holdings[symbol] += amount
		}
		if side == "sell" {
			holdings[symbol] -= amount
		}

		if traded {
			counters.add(func(c *counts) { c.matched++ })
		} else {
			counters.add(func(c *counts) { c.resting++ })
			resting = append(resting, orderID)
		}

		if len(resting) > 0 && rand.Intn(cancelOneIn) == 0 {
			victim := resting[0]
			resting = resting[1:]
			if err := sc.cancelOrder(t, victim); err == nil {
				counters.add(func(c *counts) { c.cancelled++ })
			}
		}

		if rand.Intn(10) == 0 {
			_ = sc.fetchOrderBook(t, symbol)
		}

		time.Sleep(time.Duration(rand.Intn(120)) * time.Millisecond)
	}
}

type counts struct {
	matched   int
	resting   int
	cancelled int
	rejected  int
}

type simCounters struct {
	mu sync.Mutex
	c  counts
}

func (s *simCounters) add(f func(*counts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.c)
}

func main() {
	sc := newSimulationClient()
	counters := &simCounters{}

	start := time.Now()
	run := time.Now().UnixNano()

	var traders []*trader
	for i := 0; i < numTraders; i++ {
		t := &trader{
			name:  fmt.Sprintf("Sim Trader %d", i+1),
			email: fmt.Sprintf("sim-%d-%d@example.com", run, i+1),
		}
		token, err := sc.register(t.name, t.email)
		if err != nil {
			log.Fatal().Err(err).Str("email", t.email).Msg("Failed to register trader")
		}
		t.token = token
		traders = append(traders, t)
		log.Info().Str("trader", t.name).Msg("Trader registered")
	}

	var wg sync.WaitGroup
	for _, t := range traders {
		wg.Add(1)
		go runTrader(t, sc, &wg, counters)
	}
	wg.Wait()

	duration := time.Since(start)
	final := counters.c
	log.Info().
		Int("matched", final.matched).
		Int("resting", final.resting).
		Int("cancelled", final.cancelled).
		Int("rejected", final.rejected).
		Dur("duration", duration).
		Msg("Simulation completed")

	sc.printPerformanceStats()
}
