// Command leechd downloads a single torrent, given either a .torrent
// file path or a magnet link, then exits. It does not seed afterward
// and does not manage multiple torrents at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cenkalti/log"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/tchardonnens/vibe-torrent-client/internal/config"
	"github.com/tchardonnens/vibe-torrent-client/internal/engine"
	"github.com/tchardonnens/vibe-torrent-client/internal/logging"
	"github.com/tchardonnens/vibe-torrent-client/internal/magnet"
	"github.com/tchardonnens/vibe-torrent-client/internal/metainfo"
)

// Exit codes: 0 completed, 1 failed, 2 bad input, 130 interrupted.
const (
	exitOK          = 0
	exitFailed      = 1
	exitBadInput    = 2
	exitInterrupted = 130
)

var (
	dest  = flag.String("dest", ".", "where to download")
	debug = flag.Bool("debug", false, "enable debug log")
)

func main() {
	flag.Parse()

	if *debug {
		logging.SetLevel(log.DEBUG)
	} else {
		logging.SetLevel(log.INFO)
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: leechd [-dest dir] [-debug] <torrent-file-or-magnet-link>")
		os.Exit(exitBadInput)
	}

	outDir, err := homedir.Expand(*dest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "leechd:", err)
		os.Exit(exitBadInput)
	}

	src, err := parseSource(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "leechd:", err)
		os.Exit(exitBadInput)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	cfg := config.Default()
	progressC := make(chan engine.Progress, 1)
	go printProgress(progressC)

	result, err := engine.Run(ctx, src, outDir, cfg, progressC)
	if err != nil {
		fmt.Fprintln(os.Stderr, "leechd:", err)
		os.Exit(exitFailed)
	}

	switch result.Outcome {
	case engine.Completed:
		fmt.Fprintln(os.Stderr, "leechd: download complete")
		os.Exit(exitOK)
	case engine.Interrupted:
		fmt.Fprintln(os.Stderr, "leechd: interrupted")
		os.Exit(exitInterrupted)
	default:
		fmt.Fprintln(os.Stderr, "leechd: failed:", result.Err)
		os.Exit(exitFailed)
	}
}

// parseSource decides whether arg is a magnet link or a .torrent file
// path and parses it accordingly.
func parseSource(arg string) (*engine.Source, error) {
	if strings.HasPrefix(arg, "magnet:") {
		m, err := magnet.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parsing magnet link: %w", err)
		}
		return engine.FromMagnet(m), nil
	}

	f, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("opening torrent file: %w", err)
	}
	defer f.Close()

	mi, err := metainfo.New(f)
	if err != nil {
		return nil, fmt.Errorf("parsing torrent file: %w", err)
	}
	return engine.FromMetaInfo(mi), nil
}

func printProgress(progressC <-chan engine.Progress) {
	for p := range progressC {
		fmt.Fprintf(os.Stderr, "\rpieces %d/%d  %.1f%%  %.1f KB/s  peers %d",
			p.PiecesDone, p.PiecesTotal,
			percent(p.BytesDone, p.BytesTotal),
			p.DownloadRateBps/1024,
			p.PeersConnected)
	}
	fmt.Fprintln(os.Stderr)
}

func percent(done, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
