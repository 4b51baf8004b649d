// Command demo runs a snippet against a sandbox server and prints the
// classified result.
//
// Usage:
//
//	demo [-runtime python|r] [-session id] [-install] [-out dir] [file]
//
// The source is read from file, or from stdin when file is "-". Without a
// file a built-in sample is run. The server URL and credentials come from
// SANDBOX_URL (default http://localhost:8080) and SANDBOX_API_KEY.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/client"
)

const sample = `import pandas as pd
import matplotlib.pyplot as plt

df = pd.DataFrame({"month": ["jan", "feb", "mar"], "sales": [120, 95, 143]})
df.plot(x="month", y="sales", kind="bar").get_figure().savefig("sales.png")
print("total sales:", df["sales"].sum())
result = df
`

func main() {
	runtime := flag.String("runtime", "python", "runtime: python or r")
	session := flag.String("session", "demo", "session id")
	install := flag.Bool("install", false, "install a missing package and retry once")
	timeout := flag.Int("timeout", 30, "timeout in seconds")
	outDir := flag.String("out", "", "download exposed artifacts into this directory")
	flag.Parse()

	if err := run(*runtime, *session, *install, *timeout, *outDir, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func run(runtime, session string, install bool, timeout int, outDir, file string) error {
	source, err := readSource(file)
	if err != nil {
		return err
	}

	baseURL := os.Getenv("SANDBOX_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c := client.New(baseURL, client.WithAPIKey(os.Getenv("SANDBOX_API_KEY")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second+30*time.Second)
	defer cancel()

	res, err := c.Execute(ctx, &api.ExecutionRequest{
		Runtime:        api.Runtime(runtime),
		SourceCode:     source,
		SessionID:      session,
		AllowInstall:   install,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return err
	}

	fmt.Printf("[%s] %s (%d ms, exit %d)\n", res.Status, res.Message, res.DurationMs, res.ExitCode)
	if res.StdoutLog != "" {
		fmt.Printf("\n--- stdout ---\n%s", res.StdoutLog)
	}
	if res.StderrLog != "" {
		fmt.Printf("\n--- stderr ---\n%s", res.StderrLog)
	}
	if res.StructuredValue != nil {
		data, _ := json.MarshalIndent(res.StructuredValue, "", "  ")
		fmt.Printf("\n--- value ---\n%s\n", data)
	}
	for _, a := range res.Artifacts {
		fmt.Printf("artifact %s  %-24s %-8s %8d bytes  %s\n", a.ID, a.Name, a.Category, a.SizeBytes, a.Visibility)
	}

	if outDir == "" {
		return nil
	}
	return download(ctx, c, session, res.Artifacts, outDir)
}

func readSource(file string) (string, error) {
	switch file {
	case "":
		return sample, nil
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(file)
	return string(b), err
}

func download(ctx context.Context, c *client.Client, session string, refs []api.ArtifactRef, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, ref := range refs {
		if ref.Visibility != api.VisibilityExposed || !ref.Materialized {
			continue
		}
		a, err := c.Artifact(ctx, session, ref.ID)
		if err != nil {
			return fmt.Errorf("download %s: %w", ref.Name, err)
		}
		dst := filepath.Join(dir, filepath.Base(ref.Name))
		f, err := os.Create(dst)
		if err != nil {
			a.Body.Close()
			return err
		}
		_, err = io.Copy(f, a.Body)
		a.Body.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		fmt.Println("saved", dst)
	}
	return nil
}
