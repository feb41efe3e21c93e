package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/etnz/docket/config"
	"github.com/etnz/docket/docketapp"
	"github.com/etnz/docket/logger"
	"github.com/etnz/docket/web"
)

func main() {
	verboseFlag := flag.Bool("v", false, "Print logs")
	loginFlag := flag.Bool("login", false, "Connect Drive Docket to your Google Account.")
	logoutFlag := flag.Bool("logout", false, "Disconnect your Google Account.")
	listFlag := flag.Bool("list", false, "List saved documents as JSON.")
	fetchFlag := flag.String("fetch", "", "Fetch a Google Drive `URL` and save its content.")
	showFlag := flag.String("show", "", "Print the content of a saved document `ID`.")
	deleteFlag := flag.String("delete", "", "Delete a saved document `ID`.")
	serveFlag := flag.Bool("serve", false, "Serve the web interface.")
	addrFlag := flag.String("addr", "", "Listen address of the web interface (default $DOCKET_ADDR or :8080).")
	storeFlag := flag.String("store", "", "Document store: firestore, sqlite or memory (default $DOCKET_STORE or sqlite).")
	envFlag := flag.String("env", ".env", "Optional env file.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Drive Docket\n\n")
		fmt.Fprintf(os.Stderr, "Saves the content of your Google Drive documents and sheets.\n")
		fmt.Fprintf(os.Stderr, "Run without flags to start an interactive session.\n\n")
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *storeFlag != "" {
		cfg.Store.Backend = *storeFlag
	}

	switch {
	case *verboseFlag:
		logger.Init(true)
	case *serveFlag:
		logger.InitLevel(logger.ParseLevel(cfg.LogLevel))
	default:
		logger.Init(false)
	}
	defer logger.Log.Sync()

	app, err := docketapp.New(ctx, cfg)
	if err != nil {
		docketapp.RenderInitError(os.Stderr, err)
		os.Exit(1)
	}
	defer app.Close()

	if *serveFlag {
		if err := serve(ctx, app, cfg); err != nil {
			logger.Sugar.Errorw("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	sess := app.NewLocalSession()
	sess.Start(ctx)
	defer sess.Close()
	if err := sess.WaitReady(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *loginFlag:
		if err := sess.LoginLoopback(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Successfully logged in. Drive Docket can now read your Google Drive.")

	case *logoutFlag:
		sess.Disconnect()
		fmt.Println("Disconnected your Google Account.")

	case *listFlag:
		docs, err := sess.Documents(ctx)
		if err != nil {
			fail(sess, err)
		}
		if err := json.NewEncoder(os.Stdout).Encode(docs); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding documents to JSON: %v\n", err)
			os.Exit(1)
		}

	case *fetchFlag != "":
		if _, err := sess.Fetch(ctx, *fetchFlag); err != nil {
			fail(sess, err)
		}
		fmt.Println(sess.State().Status)

	case *showFlag != "":
		if _, err := sess.Documents(ctx); err != nil {
			fail(sess, err)
		}
		doc, err := sess.Select(*showFlag)
		if err != nil {
			fail(sess, err)
		}
		fmt.Println(doc.Content)

	case *deleteFlag != "":
		if _, err := sess.Documents(ctx); err != nil {
			fail(sess, err)
		}
		if err := sess.Delete(ctx, *deleteFlag); err != nil {
			fail(sess, err)
		}
		fmt.Println(sess.State().Status)

	default:
		console := docketapp.NewConsole(sess, os.Stdout, os.Stdin)
		if err := console.Run(ctx, flag.Args()...); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "\nAn error occurred: %v\n", err)
			os.Exit(1)
		}
	}
}

// serve runs the web interface until ctx is done.
func serve(ctx context.Context, app *docketapp.App, cfg *config.Config) error {
	redirect := cfg.OAuth.RedirectURL
	if redirect == "" {
		_, port, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cfg.Addr, err)
		}
		redirect = fmt.Sprintf("http://localhost:%s/oauth2/callback", port)
	}

	srv, err := web.New(app, web.Options{RedirectURL: redirect})
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.ListenAndServe(ctx, cfg.Addr)
}

// fail prints the session status line, or err when there is none, and exits.
func fail(sess *docketapp.Session, err error) {
	if st := sess.State().Status; st != "" {
		fmt.Fprintln(os.Stderr, st)
	}
	logger.Sugar.Debugw("command failed", "error", err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
