package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
)

// Credentials 表示一次回源请求可用的 Basic Auth 凭证。
type Credentials struct {
	Username string
	Password string
}

// CredentialSource 根据目标 URL 解析回源凭证，通常由 source.Registry 实现。
type CredentialSource interface {
	CredentialsFor(u *url.URL) (Credentials, bool)
}

// HTTPFetcher 将远端资源下载为目标目录下的临时文件（"." 前缀命名，
// 目录扫描会跳过），成功后由调用方负责 rename 到最终位置。
type HTTPFetcher struct {
	client      *http.Client
	credentials CredentialSource
	retry       RetryPolicy
	logger      *logrus.Logger
}

// NewHTTPFetcher 创建共享 client 的下载器；credentials 允许为 nil（匿名回源）。
func NewHTTPFetcher(client *http.Client, credentials CredentialSource, retry RetryPolicy, logger *logrus.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:      client,
		credentials: credentials,
		retry:       retry,
		logger:      logger,
	}
}

// Download 按重试策略执行下载，返回写入完成的临时文件路径。
func (f *HTTPFetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	var path string
	attempt := 0
	err := f.retry.Do(ctx, func() error {
		attempt++
		p, err := f.downloadOnce(ctx, rawURL, dir)
		if err != nil {
			if f.logger != nil {
				f.logger.WithFields(logrus.Fields{
					"action":  "download",
					"url":     rawURL,
					"attempt": attempt,
				}).Warn(err.Error())
			}
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (f *HTTPFetcher) downloadOnce(ctx context.Context, rawURL, dir string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if f.credentials != nil {
		if creds, ok := f.credentials.CredentialsFor(parsed); ok {
			req.SetBasicAuth(creds.Username, creds.Password)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("upstream status %d for %s", resp.StatusCode, rawURL)
	}

	tempFile, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, resp.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	return tempName, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
