package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/client"
	"github.com/aeolun/chatroom/pkg/logging"
	"github.com/aeolun/chatroom/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

// generateUsername returns a short unique label such as "bot-1f3a9c0e"
func generateUsername() string {
	return "bot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func randomBody(seq int64) string {
	n := 5 + rand.Intn(20)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return fmt.Sprintf("#%d %s", seq, strings.Join(words, " "))
}

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesFailed    atomic.Int64
	messagesReceived  atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64

	// Detailed failure tracking
	postFailures   atomic.Int64
	timeouts       atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesPosted.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordPostFailure() {
	s.messagesFailed.Add(1)
	s.postFailures.Add(1)
}

func (s *Stats) recordTimeout() {
	s.messagesFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordConnectionError() {
	s.connectionErrors.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.messagesFailed.Add(1)
	s.disconnections.Add(1)
}

func (s *Stats) snapshot() (posted, failed, connErrors int64, avgResponseUs float64) {
	posted = s.messagesPosted.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()

	if posted > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(posted)
	}

	return
}

// BotClient is a scripted chat participant
type BotClient struct {
	id     int
	client *client.Client
	room   string
	stats  *Stats
	logger zerolog.Logger
	seq    int64
}

func NewBotClient(ctx context.Context, id int, serverAddr, room string, throttle int, stats *Stats) (*BotClient, error) {
	logger := logging.Component("loadtest").With().Int("bot", id).Logger()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := client.Dial(dialCtx, serverAddr, generateUsername(), client.Options{
		ThrottleBytesPerSec: throttle,
		Logger:              &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &BotClient{
		id:     id,
		client: c,
		room:   room,
		stats:  stats,
		logger: logger,
	}, nil
}

func (bc *BotClient) Setup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := bc.client.JoinAndWait(ctx, bc.room)
	return err
}

// PostRandomMessage sends one message to the room and waits for the server to echo it back
func (bc *BotClient) PostRandomMessage(ctx context.Context) error {
	bc.seq++
	body := randomBody(bc.seq)
	me := bc.client.Username()

	start := time.Now()
	if err := bc.client.Send(bc.room, body); err != nil {
		bc.stats.recordPostFailure()
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := bc.client.Await(waitCtx, func(p protocol.Packet) bool {
		tell, ok := p.(*protocol.TellMsgPacket)
		if !ok {
			return false
		}
		if tell.Sender != me {
			bc.stats.messagesReceived.Add(1)
			return false
		}
		return tell.Body == body
	})
	switch {
	case err == nil:
		bc.stats.recordSuccess(time.Since(start).Microseconds())
		return nil
	case waitCtx.Err() != nil && ctx.Err() == nil:
		bc.stats.recordTimeout()
	case ctx.Err() != nil:
		// test ended while waiting
	default:
		bc.stats.recordDisconnection()
	}
	return err
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.client.Close()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	for ctx.Err() == nil {
		if err := bc.PostRandomMessage(ctx); err != nil {
			select {
			case <-bc.client.Done():
				bc.logger.Warn().Err(bc.client.Err()).Msg("disconnected")
				return
			default:
			}
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}
}

func main() {
	// Command-line flags
	serverAddr := flag.String("server", fmt.Sprintf("localhost:%d", protocol.DefaultPort), "Server address (host:port, tcp://, ws:// or wss://)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	room := flag.String("room", "loadtest", "Room every bot joins")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	throttle := flag.Int("throttle", 0, "Per-bot bandwidth limit in bytes/sec (0 = unlimited)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel})

	// Calculate stagger delay: ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	logger.Info().
		Str("server", *serverAddr).
		Int("clients", *numClients).
		Str("room", *room).
		Dur("duration", *duration).
		Dur("ramp_up", rampUpDuration).
		Dur("min_delay", *minDelay).
		Dur("max_delay", *maxDelay).
		Str("link", client.FormatBandwidth(*throttle)).
		Msg("starting load test")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				posted, failed, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				logger.Info().
					Int64("posted", posted).
					Float64("rate", float64(posted)/elapsed).
					Int64("failed", failed).
					Int64("received", stats.messagesReceived.Load()).
					Int64("conn_errors", connErrors).
					Float64("avg_ms", avgUs/1000.0).
					Msg("stats")
			case <-stopStats:
				return
			}
		}
	}()

	start := time.Now()

	// Spawn clients
spawn:
	for i := 0; i < *numClients; i++ {
		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		wg.Add(1)
		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot, err := NewBotClient(ctx, id, *serverAddr, *room, *throttle, stats)
			if err != nil {
				stats.recordConnectionError()
				logger.Debug().Err(err).Int("bot", id).Msg("connect failed")
				return
			}
			if err := bot.Setup(ctx); err != nil {
				stats.recordConnectionError()
				bot.client.Close()
				return
			}

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				logger.Info().Int("bot", id).Str("username", bot.client.Username()).Msg("connected")
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received, stopping test")
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)

	printResults(stats, time.Since(start), *numClients, *minDelay, *maxDelay)
}

func printResults(stats *Stats, elapsed time.Duration, numClients int, minDelay, maxDelay time.Duration) {
	posted, failed, connErrors, avgUs := stats.snapshot()

	// Calculate expected throughput
	avgDelay := (minDelay + maxDelay) / 2
	if avgDelay <= 0 {
		avgDelay = time.Millisecond
	}
	expectedPerClient := float64(elapsed) / float64(avgDelay)
	expectedTotal := expectedPerClient * float64(numClients)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	table.Append([]string{"Duration", elapsed.Round(time.Millisecond).String()})
	table.Append([]string{"Messages posted", fmt.Sprintf("%d (%.1f/s)", posted, float64(posted)/elapsed.Seconds())})
	table.Append([]string{"Messages received", fmt.Sprintf("%d", stats.messagesReceived.Load())})
	table.Append([]string{"Messages failed", fmt.Sprintf("%d", failed)})
	table.Append([]string{"  post failures", fmt.Sprintf("%d", stats.postFailures.Load())})
	table.Append([]string{"  timeouts", fmt.Sprintf("%d", stats.timeouts.Load())})
	table.Append([]string{"  disconnections", fmt.Sprintf("%d", stats.disconnections.Load())})
	table.Append([]string{"Connection errors", fmt.Sprintf("%d", connErrors)})
	table.Append([]string{"Average echo latency", fmt.Sprintf("%.2fms", avgUs/1000.0)})
	table.Append([]string{"Expected throughput", fmt.Sprintf("%.0f messages (%.1f per client)", expectedTotal, expectedPerClient)})
	if expectedTotal > 0 {
		table.Append([]string{"Actual vs expected", fmt.Sprintf("%.1f%%", float64(posted)/expectedTotal*100)})
	}
	if posted+failed > 0 {
		table.Append([]string{"Success rate", fmt.Sprintf("%.1f%%", float64(posted)/float64(posted+failed)*100)})
	}

	fmt.Println()
	table.Render()
}
