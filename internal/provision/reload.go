package provision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/CyCoreSystems/ari/v5/client/native"
)

// ReloadTrigger asks the routing engine to re-read its dialplan. It must
// honor ctx cancellation.
type ReloadTrigger interface {
	Reload(ctx context.Context) error
}

// ReloadFunc adapts a function to ReloadTrigger.
type ReloadFunc func(ctx context.Context) error

func (f ReloadFunc) Reload(ctx context.Context) error { return f(ctx) }

// NopReloader never reloads. Used when reload-mode is "none".
type NopReloader struct{}

func (NopReloader) Reload(context.Context) error { return nil }

// CommandReloader runs a shell command, by default
// `asterisk -rx "dialplan reload"`.
type CommandReloader struct {
	Command string
}

// Reload runs the command through sh -c. The combined output is included
// in the error when the command fails.
func (r CommandReloader) Reload(ctx context.Context) error {
	if strings.TrimSpace(r.Command) == "" {
		return errors.New("reload command is empty")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	// Children of the shell can keep the output pipe open after it is killed.
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("running reload command: %w", ctx.Err())
		}
		return fmt.Errorf("running reload command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ARIOptions holds the Asterisk REST Interface connection settings.
type ARIOptions struct {
	Application  string
	Username     string
	Password     string
	URL          string
	WebsocketURL string
}

// ARIReloader reloads pbx_config.so over the Asterisk REST Interface. A
// fresh client is connected for every reload and closed afterwards.
type ARIReloader struct {
	opts    ARIOptions
	connect func(*native.Options) (ari.Client, error)
}

// NewARIReloader creates an ARIReloader.
func NewARIReloader(opts ARIOptions) *ARIReloader {
	return &ARIReloader{opts: opts, connect: native.Connect}
}

// dialplanModule is the Asterisk module that owns extensions.conf.
const dialplanModule = "pbx_config.so"

func (r *ARIReloader) Reload(ctx context.Context) error {
	type result struct {
		cl  ari.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		cl, err := r.connect(&native.Options{
			Application:  r.opts.Application,
			Username:     r.opts.Username,
			Password:     r.opts.Password,
			URL:          r.opts.URL,
			WebsocketURL: r.opts.WebsocketURL,
		})
		done <- result{cl: cl, err: err}
	}()

	var cl ari.Client
	select {
	case <-ctx.Done():
		// Close the client if the connect finishes after we gave up.
		go func() {
			if res := <-done; res.err == nil {
				res.cl.Close()
			}
		}()
		return fmt.Errorf("connecting to ari: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("connecting to ari: %w", res.err)
		}
		cl = res.cl
	}
	defer cl.Close()

	if err := cl.Asterisk().Modules().Reload(ari.NewKey(ari.ModuleKey, dialplanModule)); err != nil {
		return fmt.Errorf("reloading %s: %w", dialplanModule, err)
	}
	return nil
}
