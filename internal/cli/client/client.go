package client

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
)

const defaultServerURL = "http://localhost:8080"

var (
	mu         sync.RWMutex
	token      string
	serverURL  = defaultServerURL
	caCertPath string
)

func init() {
	if envURL := os.Getenv("CICADA_SERVER"); envURL != "" {
		serverURL = strings.TrimRight(envURL, "/")
	}
	if envCaPath := os.Getenv("CA_CERT_PATH"); envCaPath != "" {
		caCertPath = envCaPath
	}
	token = os.Getenv("CICADA_TOKEN")
}

func SaveToken(t string) {
	mu.Lock()
	defer mu.Unlock()
	token = t
}

func Token() string {
	mu.RLock()
	defer mu.RUnlock()
	return token
}

func SetServerURL(url string) {
	mu.Lock()
	defer mu.Unlock()
	serverURL = strings.TrimRight(url, "/")
}

func SendRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := CreateRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return DoRequest(req)
}

func SendFile(method, path string, file io.Reader) (*http.Response, error) {
	req, err := CreateRequest(method, path, file)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/yaml")
	return DoRequest(req)
}

func CreateRequest(method, path string, body io.Reader) (*http.Request, error) {
	mu.RLock()
	url := serverURL + path
	t := token
	mu.RUnlock()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoRequest sends req and keeps any token the server renewed on the way.
func DoRequest(req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Transport: createTransport(),
		Timeout:   30 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if renewed, err := common.GetAuthorizationToken(resp.Header.Get("Authorization")); err == nil {
		SaveToken(renewed)
	}
	return resp, nil
}

func createTransport() *http.Transport {
	tlsConfig := &tls.Config{}

	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			fmt.Printf("fail to read ca cert: %v\n", err)
		} else {
			caCertPool := x509.NewCertPool()
			if caCertPool.AppendCertsFromPEM(caCert) {
				tlsConfig.RootCAs = caCertPool
			} else {
				fmt.Println("fail to parse ca cert, use system default cert pool")
			}
		}
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
}

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("response is nil")
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("response body is nil")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	return body, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// DecodeResponse unwraps the server envelope into out. A non-zero envelope
// code comes back as a common.ErrNo. out may be nil when the data is unused.
func DecodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := ReadResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if env.Code != common.SuccessCode {
		return common.ErrNo{ErrCode: env.Code, ErrMsg: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// Call sends a JSON request (body may be nil) and decodes the envelope data into out.
func Call(method, path string, body io.Reader, out any) error {
	resp, err := SendRequest(method, path, body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out)
}

// CallFile uploads a YAML document and decodes the envelope data into out.
func CallFile(method, path string, file io.Reader, out any) error {
	resp, err := SendFile(method, path, file)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out)
}
