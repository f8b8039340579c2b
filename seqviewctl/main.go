package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	mathrand "math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/seqview/seqview/seqview"
	"github.com/seqview/seqview/seqview/feed"
)

const SeqviewCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Seqview feed control.

Usage:
    seqviewctl tail --url=<url> [--jwt=<jwt>] [--count=<count>]
    seqviewctl serve [--listen=<listen>] [--secret=<secret>]
        [--interval=<interval>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --url=<url>              Feed websocket url, e.g. ws://127.0.0.1:8080/feed
    --jwt=<jwt>              Bearer token for protected feeds.
    --count=<count>          Print this many frames then exit.
    --listen=<listen>        Listen address for the demo feed [default: 127.0.0.1:8080].
    --secret=<secret>        Protect the demo feed with this hs256 secret.
    --interval=<interval>    Demo mutation interval in milliseconds [default: 500].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SeqviewCtlVersion)
	if err != nil {
		panic(err)
	}

	if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func tail(opts docopt.Opts) {
	url, _ := opts.String("--url")
	jwt, _ := opts.String("--jwt")

	count := -1
	if countStr, err := opts.String("--count"); err == nil {
		count, err = strconv.Atoi(countStr)
		if err != nil {
			Err.Fatalf("bad --count: %s", err)
		}
	}

	pretty := term.IsTerminal(int(os.Stdout.Fd()))

	ctx := context.Background()
	settings := feed.DefaultClientSettings()
	settings.Jwt = jwt
	client, err := feed.Dial(ctx, url, settings)
	if err != nil {
		Err.Fatalf("dial: %s", err)
	}
	defer client.Close()

	for i := 0; count < 0 || i < count; i += 1 {
		frame, err := client.Read()
		if err != nil {
			Err.Fatalf("read: %s", err)
		}
		printFrame(frame, pretty)
	}
}

func printFrame(frame *feed.Frame, pretty bool) {
	if !pretty {
		frameJson, _ := json.Marshal(map[string]any{
			"action":    frame.Action,
			"index":     frame.Index,
			"old_index": frame.OldIndex,
			"old_items": decodeAll(frame.OldItems),
			"new_items": decodeAll(frame.NewItems),
		})
		Out.Printf("%s", frameJson)
		return
	}
	switch frame.Action {
	case seqview.ChangeActionMove:
		Out.Printf("%-8s %d -> %d", frame.Action, frame.OldIndex, frame.Index)
	case seqview.ChangeActionReset:
		Out.Printf("%-8s %d items", frame.Action, len(frame.NewItems))
	default:
		Out.Printf(
			"%-8s @%d old=%v new=%v",
			frame.Action,
			frame.Index,
			decodeAll(frame.OldItems),
			decodeAll(frame.NewItems),
		)
	}
}

func decodeAll(itemsBytes [][]byte) []string {
	items := []string{}
	for _, itemBytes := range itemsBytes {
		items = append(items, string(itemBytes))
	}
	return items
}

// serves a feed over a synthetic list that mutates on a timer
func serve(opts docopt.Opts) {
	listen, _ := opts.String("--listen")
	secret, _ := opts.String("--secret")
	intervalStr, _ := opts.String("--interval")
	intervalMillis, err := strconv.Atoi(intervalStr)
	if err != nil {
		Err.Fatalf("bad --interval: %s", err)
	}
	interval := time.Duration(intervalMillis) * time.Millisecond

	ctx := context.Background()

	list := seqview.NewListWithDefaults[string]()
	go mutate(list, interval)

	settings := feed.DefaultFeedSettings()
	if secret != "" {
		settings.AuthSecret = []byte(secret)
		token, err := feed.SignToken(settings.AuthSecret, "seqviewctl")
		if err != nil {
			Err.Fatalf("sign: %s", err)
		}
		Out.Printf("jwt: %s", token)
	}
	encode := func(item string) ([]byte, error) {
		return []byte(item), nil
	}
	http.Handle("/feed", feed.NewFeed(ctx, list, encode, settings))

	Out.Printf("serving ws://%s/feed", listen)
	if err := http.ListenAndServe(listen, nil); err != nil {
		Err.Fatalf("listen: %s", err)
	}
}

func mutate(list *seqview.List[string], interval time.Duration) {
	for i := 0; ; i += 1 {
		time.Sleep(interval)
		switch mathrand.Intn(4) {
		case 0, 1:
			list.Insert(mathrand.Intn(list.Len()+1), fmt.Sprintf("item-%d", i))
		case 2:
			if 0 < list.Len() {
				list.RemoveAt(mathrand.Intn(list.Len()))
			}
		case 3:
			if 0 < list.Len() {
				list.SetAt(mathrand.Intn(list.Len()), fmt.Sprintf("item-%d", i))
			}
		}
	}
}
