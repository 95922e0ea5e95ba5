// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command client uploads a file to a drop server and prints its URL.
//
//	client --server http://127.0.0.1:3001 --retention week ./report.pdf
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fawa-io/drop/pkg/fwlog"
)

func main() {
	server := pflag.String("server", "http://127.0.0.1:3001", "Base URL of the drop server")
	retention := pflag.String("retention", "day", "How long to keep the file: day, week or month")
	timeout := pflag.Duration("timeout", 10*time.Minute, "Upload timeout")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: client [flags] FILE")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	link, err := upload(ctx, http.DefaultClient, *server, pflag.Arg(0), *retention)
	if err != nil {
		fwlog.Fatalf("Upload failed: %v", err)
	}
	fmt.Println(link)
}

// upload streams path to server as a multipart form and returns the
// absolute URL of the stored file. The form is built in a temp file
// first because the server requires a declared length.
func upload(ctx context.Context, client *http.Client, server, path, retention string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	body, err := os.CreateTemp("", "drop-form-*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = body.Close()
		_ = os.Remove(body.Name())
	}()

	mw := multipart.NewWriter(body)
	if err := mw.WriteField("date", retention); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	size, err := body.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	base := strings.TrimRight(server, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/upload", io.NopCloser(body))
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mw.FormDataContentType())

	fwlog.Debugf("Uploading %s (%d bytes form) to %s", path, size, base)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(msg))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server answered %s: %s", resp.Status, text)
	}
	if !strings.HasPrefix(text, "/file/") {
		return "", errors.New("unexpected response: " + text)
	}
	return base + text, nil
}
