package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
)

const baseURL = "http://localhost:3000/api"

// Pretty print JSON helper
func prettyPrint(body []byte) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func do(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp, body, err
}

func analyzeRequest(imagePath, preset, labels string) (*http.Request, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("preset", preset)
	if labels != "" {
		_ = w.WriteField("labels", labels)
	}
	fw, err := w.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest("POST", baseURL+"/labeler/v1/analyze", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func must(resp *http.Response, body []byte, err error) {
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		color.Red("Status: %s", resp.Status)
	} else {
		color.Green("Status: %s", resp.Status)
	}
	prettyPrint(body)
}

// Usage: go run scripts/test_labeler_api.go path/to/image.jpg
func main() {
	if len(os.Args) < 2 {
		color.Red("usage: test_labeler_api IMAGE")
		os.Exit(2)
	}
	imagePath := os.Args[1]

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 2 * time.Minute}

	color.Cyan("🚀 Starting Image Labeler API Test\n")

	color.Yellow("\n1. Health")
	req, _ := http.NewRequest("GET", baseURL+"/health", nil)
	must(do(client, req))

	color.Yellow("\n2. Presets")
	req, _ = http.NewRequest("GET", baseURL+"/labeler/v1/presets", nil)
	must(do(client, req))

	color.Yellow("\n3. Analyze with the General preset")
	req, err := analyzeRequest(imagePath, "General", "")
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	must(do(client, req))

	color.Yellow("\n4. Analyze with empty custom labels (expect 400)")
	req, _ = analyzeRequest(imagePath, "Custom", " , ")
	must(do(client, req))

	color.Yellow("\n5. Vote on 'dog'")
	req, _ = http.NewRequest("POST", baseURL+"/labeler/v1/feedback", strings.NewReader(`{"label":"dog","direction":"up"}`))
	req.Header.Set("Content-Type", "application/json")
	must(do(client, req))

	color.Yellow("\n6. Export CSV")
	req, _ = http.NewRequest("GET", baseURL+"/labeler/v1/export", nil)
	resp, body, err := do(client, req)
	if err != nil {
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
	color.Green("Status: %s (%s)", resp.Status, resp.Header.Get("Content-Disposition"))
	fmt.Print(string(body))

	color.Yellow("\n7. End session")
	req, _ = http.NewRequest("DELETE", baseURL+"/labeler/v1/session", nil)
	must(do(client, req))

	color.Cyan("\n✅ Done")
}
