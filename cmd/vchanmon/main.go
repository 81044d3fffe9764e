// Command vchanmon opens one vchan endpoint (server or client side) and
// prints every state transition and data-ready event it observes, until
// interrupted or the peer disconnects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/govchan"
)

type event struct {
	at        time.Time
	state     vchan.State
	dataReady int
}

func main() {
	mode := flag.String("mode", "server", "server or client")
	domain := flag.Int("domain", 0, "remote domain id")
	port := flag.Int("port", 0, "vchan port")
	readMin := flag.Int("read-min", 4096, "read ring minimum size (server only)")
	writeMin := flag.Int("write-min", 4096, "write ring minimum size (server only)")
	flag.Parse()

	ch, err := open(*mode, *domain, *port, *readMin, *writeMin)
	if err != nil {
		log.Fatalf("vchanmon: %v", err)
	}
	defer ch.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events := queue.New()
	var mu sync.Mutex
	notify := make(chan struct{}, 1)
	done := make(chan struct{})

	go pollEvents(ch, events, &mu, notify, done)
	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	printEvents(events, &mu, notify, done)
}

func open(mode string, domain, port, readMin, writeMin int) (*vchan.Channel, error) {
	switch mode {
	case "server":
		return vchan.Listen(domain, port, readMin, writeMin)
	case "client":
		return vchan.Dial(domain, port)
	default:
		return nil, fmt.Errorf("unknown -mode %q (want server or client)", mode)
	}
}

// pollEvents blocks in Wait, pushing an event onto the shared queue for
// every state change or data arrival, until the channel reaches
// StateDisconnected or Wait fails. It never touches the terminal directly
// so a slow printer can't stall the wakeup loop.
func pollEvents(ch *vchan.Channel, events *queue.Queue, mu *sync.Mutex, notify chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	lastState := vchan.State(-1)
	for {
		if err := ch.Wait(); err != nil {
			log.Printf("vchanmon: wait: %v", err)
			return
		}

		state := ch.IsOpen()
		dataReady := ch.DataReady()
		if state != lastState || dataReady > 0 {
			mu.Lock()
			events.Add(event{at: time.Now(), state: state, dataReady: dataReady})
			mu.Unlock()
			select {
			case notify <- struct{}{}:
			default:
			}
		}
		lastState = state

		if state == vchan.StateDisconnected {
			return
		}
	}
}

// printEvents drains the queue and prints each event, decoupled from the
// poller's wakeup cadence: a slow fmt.Println never blocks pollEvents'
// next Wait call.
func printEvents(events *queue.Queue, mu *sync.Mutex, notify <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-notify:
			drain(events, mu)
		case <-done:
			drain(events, mu)
			return
		}
	}
}

func drain(events *queue.Queue, mu *sync.Mutex) {
	for {
		mu.Lock()
		if events.Length() == 0 {
			mu.Unlock()
			return
		}
		e := events.Remove().(event)
		mu.Unlock()

		fmt.Printf("%s state=%s data_ready=%d\n", e.at.Format(time.RFC3339Nano), e.state, e.dataReady)
	}
}
