// Command docsource serves PDFs from a directory to bearer-token holders.
// With -issue it prints a token instead of serving.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alimasry/go-doc-viewer/config"
	"github.com/alimasry/go-doc-viewer/docsource"
)

func main() {
	var raw docsource.Env
	if err := config.ParseEnv(&raw); err != nil {
		config.Exitf("config: %v", err)
	}
	addr := flag.String("addr", raw.Addr, "HTTP listen address")
	dir := flag.String("dir", raw.Dir, "directory of <id>.pdf files")
	issue := flag.String("issue", "", "print a token for this subject and exit")
	docs := flag.String("documents", "", "comma-separated document ids the issued token grants, empty for all")
	ttl := flag.Duration("ttl", time.Hour, "lifetime of an issued token")
	flag.Parse()
	raw.Addr, raw.Dir = *addr, *dir

	cfg, err := docsource.ConfigFromEnv(raw)
	if err != nil {
		config.Exitf("config: %v", err)
	}

	if *issue != "" {
		var ids []string
		if *docs != "" {
			ids = strings.Split(*docs, ",")
		}
		token, err := docsource.IssueToken(cfg, *issue, ids, *ttl)
		if err != nil {
			config.Exitf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	cfg.Logger = logger

	srv, err := docsource.NewServer(cfg)
	if err != nil {
		config.Exitf("docsource: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{Addr: raw.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving documents", "addr", raw.Addr, "dir", raw.Dir)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("docsource stopped", "error", err)
		os.Exit(1)
	}
}
