package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func adminRequest(baseURL, method, path string, body any, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	adminRequest(*baseURL, http.MethodGet, "/admin/v1/state", nil, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	adminRequest(*baseURL, http.MethodPost, "/admin/v1/snapshot", nil, 10*time.Second)
}

func focusCmd(args []string) {
	fs := flag.NewFlagSet("focus", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	chunk := fs.String("chunk", "", "chunk coordinate x,y,z (required)")
	_ = fs.Parse(args)

	c, err := parseChunk(*chunk)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -chunk:", err)
		os.Exit(2)
	}
	adminRequest(*baseURL, http.MethodPost, "/admin/v1/focus", map[string]any{"chunk": c}, 5*time.Second)
}

func editCmd(args []string) {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	chunk := fs.String("chunk", "", "chunk coordinate x,y,z (required)")
	local := fs.String("local", "", "cell offset inside the chunk x,y,z (required)")
	material := fs.Uint("material", 1, "cell material (0 clears the cell)")
	automata := fs.Bool("automata", true, "set the automata flag")
	_ = fs.Parse(args)

	c, err := parseChunk(*chunk)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -chunk:", err)
		os.Exit(2)
	}
	l, err := parseChunk(*local)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -local:", err)
		os.Exit(2)
	}
	if *material > 255 {
		fmt.Fprintln(os.Stderr, "-material must be 0..255")
		os.Exit(2)
	}
	var flags uint8
	if *automata {
		flags = 1
	}
	body := map[string]any{
		"chunk":    c,
		"local":    [3]int{int(l[0]), int(l[1]), int(l[2])},
		"material": *material,
		"flags":    flags,
	}
	adminRequest(*baseURL, http.MethodPost, "/admin/v1/edit", body, 5*time.Second)
}
