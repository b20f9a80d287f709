// Command cleanslate wipes the footprint of a Telegram account: it deletes
// the account's own messages everywhere it can, redacts what it cannot
// delete, leaves groups and channels, and optionally deletes the account
// itself.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rusq/dlog"
	"github.com/rusq/osenv/v2"
	"github.com/rusq/tracer"
	"github.com/schollz/progressbar/v3"
	"github.com/zelenin/go-tdlib/client"

	"github.com/mrjv/cleanslate/internal/auth"
	"github.com/mrjv/cleanslate/internal/cleanup"
	"github.com/mrjv/cleanslate/internal/directory"
	"github.com/mrjv/cleanslate/internal/tdx"
)

const cacheDirName = "cleanslate"

const AppName = "CleanSlate for Telegram"

var (
	version   = "dev"
	builtOn   = "just now"
	gitCommit = ""
	gitRef    = ""

	versionSig = fmt.Sprintf("%s %s (built %s)", AppName, version, builtOn)
)

var _ = godotenv.Load() // load environment variables from .env, if present

// commitment is what the user must type before the account is deleted.
const commitment = "I want to delete my account"

type Params struct {
	ApiID   int
	ApiHash string
	Phone   string
	Email   string

	DBDir  string
	Device string
	Lang   string

	SkipSuperGroups bool
	SkipBasicGroups bool
	SkipBots        bool
	SkipChannels    bool
	SkipUsers       bool

	DeleteAccount bool
	KeepSession   bool
	NoRetry       bool
	Yes           bool
	Reset         bool

	Version bool
	Verbose bool
	Trace   string

	cacheDir string
}

func main() {
	p, err := parseCmdLine()
	if err != nil {
		dlog.Fatal(err)
	}
	if p.Version {
		ver(os.Stdout)
		return
	}

	dlog.SetDebug(p.Verbose)

	if err := p.initCacheDir(cacheDirName); err != nil {
		dlog.Fatalf("failed to create cache directory: %s", err)
	}

	if err := run(context.Background(), p); err != nil {
		dlog.Fatal(err)
	}
}

func parseCmdLine() (Params, error) {
	var p Params
	{
		flag.IntVar(&p.ApiID, "api-id", osenv.Secret("APP_ID", 0), "Telegram API ID")
		flag.StringVar(&p.ApiHash, "api-hash", osenv.Secret("APP_HASH", ""), "Telegram API hash")
		flag.StringVar(&p.Phone, "phone", osenv.Value("PHONE", ""), "phone `number` in international format for authentication (optional)")
		flag.StringVar(&p.Email, "email", osenv.Value("EMAIL", ""), "login with this email `address` instead of a phone number")
		flag.StringVar(&p.DBDir, "db", osenv.Value("TDLIB_DB", ""), "TDLib database `directory` (default: under the user cache dir)")
		flag.StringVar(&p.Device, "device", "PC", "device `model` reported to the server")
		flag.StringVar(&p.Lang, "lang", "en", "system language `code` reported to the server")

		flag.BoolVar(&p.SkipSuperGroups, "skip-supergroups", false, "do not touch supergroups")
		flag.BoolVar(&p.SkipBasicGroups, "skip-groups", false, "do not touch basic groups")
		flag.BoolVar(&p.SkipBots, "skip-bots", false, "do not touch bot chats")
		flag.BoolVar(&p.SkipChannels, "skip-channels", false, "do not touch channels")
		flag.BoolVar(&p.SkipUsers, "skip-users", false, "do not touch private chats")

		flag.BoolVar(&p.DeleteAccount, "delete-account", false, "delete the account after the cleanup (IRREVERSIBLE)")
		flag.BoolVar(&p.KeepSession, "keep-session", false, "do not log out and keep the local session data")
		flag.BoolVar(&p.NoRetry, "no-retry", false, "give up on the first failed login step instead of retrying")
		flag.BoolVar(&p.Yes, "yes", false, "skip the confirmation prompt")
		flag.BoolVar(&p.Reset, "reset", false, "reset authentication")

		flag.BoolVar(&p.Version, "v", false, "print version and exit")
		flag.BoolVar(&p.Verbose, "verbose", osenv.Value("DEBUG", "") != "", "verbose output")
		flag.StringVar(&p.Trace, "trace", osenv.Value("TRACE_FILE", ""), "trace `filename`")

		flag.Parse()
	}
	if p.Phone != "" && p.Email != "" {
		return p, fmt.Errorf("use either -phone or -email, not both")
	}
	return p, nil
}

func (p *Params) initCacheDir(appName string) error {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return err
	}
	cacheDir = filepath.Join(cacheDir, appName)
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return err
	}
	p.cacheDir = cacheDir
	return nil
}

func unlink(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func run(ctx context.Context, p Params) error {
	if p.Trace != "" {
		tr := tracer.New(p.Trace)
		if err := tr.Start(); err != nil {
			return err
		}
		defer tr.End()
	}

	header(os.Stdout)

	dbDir := p.DBDir
	if dbDir == "" {
		dbDir = filepath.Join(p.cacheDir, "tdlib")
	}
	apiCredsFile := filepath.Join(p.cacheDir, "telegram.dat")
	if p.Reset {
		if err := os.RemoveAll(dbDir); err != nil {
			return err
		}
		if err := unlink(apiCredsFile); err != nil {
			return err
		}
	}

	term := &auth.Terminal{}
	if err := ensureAPICreds(ctx, &p, tdx.Credentials{Filename: apiCredsFile}, term); err != nil {
		return err
	}

	cfg := auth.Config{
		APIID:       int32(p.ApiID),
		APIHash:     p.ApiHash,
		DatabaseDir: dbDir,
		DeviceModel: p.Device,
		Language:    p.Lang,
		AppVersion:  version,
		NoRetry:     p.NoRetry,
	}
	if p.Email != "" {
		cfg.Method = auth.MethodEmail
		cfg.Identifier = p.Email
	} else {
		cfg.Identifier = p.Phone
		if cfg.Identifier == "" {
			phone, err := term.AskPhone()
			if err != nil {
				return err
			}
			cfg.Identifier = phone
		}
	}

	machine := auth.New(cfg, term, nil)
	term.ReleaseWait = machine.Release

	dlog.Println("Connecting to telegram . . .")
	tdc, err := client.NewClient(machine, client.WithLogVerbosity(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	}))
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	// NewClient returns only once authorization has completed, and the
	// binding does not forward the final Ready state to the handler, so the
	// gate is released here, not by the machine.
	machine.Release()
	dlog.Println("Logged in.")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !p.Yes {
		if !confirm(os.Stdin, os.Stdout, p.DeleteAccount) {
			dlog.Println("Aborted, nothing was touched.")
			return nil
		}
	}

	dir := directory.New(tdc)
	listener := tdc.GetListener()
	defer listener.Close()
	pump := tdx.NewPump(func(upd client.Type) {
		if err := dir.Apply(upd); err != nil {
			dlog.Fatalf("chat directory: %s", err)
		}
	})
	go pump.Run(ctx, listener.Updates)

	done, finished := fakeProgress("Loading chats . . .", 0)
	var (
		loadDone sync.Once
		bar      *progressbar.ProgressBar
	)
	orch := cleanup.New(tdc, dir, cleanup.Options{
		SkipSuperGroups: p.SkipSuperGroups,
		SkipBasicGroups: p.SkipBasicGroups,
		SkipBots:        p.SkipBots,
		SkipChannels:    p.SkipChannels,
		SkipUsers:       p.SkipUsers,
		DeleteAccount:   p.DeleteAccount,
		AskPassword:     term.NeedPassword,
		OnProgress: func(completed, total int) {
			loadDone.Do(func() {
				close(done)
				<-finished
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Wiping chats"),
					progressbar.OptionSetPredictTime(false),
					progressbar.OptionShowCount(),
				)
			})
			bar.Set(completed)
		},
	})
	err = orch.Run(ctx)
	loadDone.Do(func() { // the run may fail before the first chat
		close(done)
		<-finished
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if !p.KeepSession {
		if !p.DeleteAccount {
			if _, err := tdc.LogOut(); err != nil {
				dlog.Printf("logout: %s", err)
			}
		}
		if err := os.RemoveAll(dbDir); err != nil {
			dlog.Printf("session cleanup: %s", err)
		}
	}

	dlog.Println("Bye!")
	return nil
}

// ensureAPICreds fills the api_id/api_hash pair in p, in this order: the
// command line, the encrypted credentials file, an interactive prompt. Newly
// entered credentials are saved for the next run.
func ensureAPICreds(ctx context.Context, p *Params, creds tdx.Credentials, term *auth.Terminal) error {
	if p.ApiID != 0 && p.ApiHash != "" {
		return nil
	}
	if id, hash, err := creds.Load(); err == nil {
		p.ApiID, p.ApiHash = id, hash
		return nil
	}
	id, hash, err := term.APICredentials(ctx)
	if err != nil {
		return err
	}
	p.ApiID, p.ApiHash = id, hash
	if err := creds.Save(id, hash); err != nil {
		dlog.Printf("failed to save credentials: %s", err)
	}
	return nil
}

// confirm makes the user type the commitment phrase verbatim. It guards
// every pass: the message wipe alone is already irreversible.
func confirm(r io.Reader, w io.Writer, deleteAccount bool) bool {
	warn := color.New(color.FgHiRed)
	warn.Fprintf(w, "This will PERMANENTLY DESTROY this account's messages in every chat it can reach.\n")
	if deleteAccount {
		warn.Fprintf(w, "The account itself will be DELETED afterwards.\n")
	}
	fmt.Fprintf(w, "Type %q to proceed: ", commitment)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == commitment
}

// fakeProgress starts a fake spinner and returns a channel that must be closed
// once the operation completes. interval is interval between iterations. If not
// set, will default to 50ms.
func fakeProgress(title string, interval time.Duration) (chan<- struct{}, <-chan struct{}) {
	if interval == 0 {
		interval = 50 * time.Millisecond
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		bar := progressbar.NewOptions(
			-1,
			progressbar.OptionSetDescription(title),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSpinnerType(9),
		)
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-done:
				bar.Finish()
				fmt.Println()
				close(finished)
				return
			case <-t.C:
				bar.Add(1)
			}
		}
	}()
	return done, finished
}

func header(w io.Writer) {
	fmt.Fprintf(w,
		"%s\n%s\n%s\n", versionSig, strings.Repeat("-", len(versionSig)),
		color.New(color.Italic).Sprint("Leave nothing behind."),
	)
	fmt.Fprintln(w)
}

func ver(w io.Writer) {
	header(w)
	if gitCommit != "" {
		fmt.Fprintf(w, "commit: %s ref: %s\n", gitCommit, gitRef)
	}
}
