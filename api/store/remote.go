package store

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// fetchToTemp downloads url into a temporary file and returns its path. The caller removes it.
func fetchToTemp(ctx context.Context, client *http.Client, url string, creds *Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build request for %s", url)
	}
	if creds != nil {
		if creds.Token != "" {
			req.Header.Set("Authorization", "Bearer "+creds.Token)
		} else {
			req.SetBasicAuth(creds.Username, creds.Password)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errors.Wrapf(ErrNotFound, "remote %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Errorf("fetching %s returned %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "remote-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrapf(err, "failed to read %s", url)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "failed to close temp file")
	}
	return tmp.Name(), nil
}

// copyFile writes src to dst through a sibling temp file so readers never observe a partial copy.
func copyFile(src io.Reader, dst string) error {
	if err := os.MkdirAll(parentDir(dst), os.ModePerm); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", dst)
	}
	tmp, err := os.CreateTemp(parentDir(dst), ".partial-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", dst)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %s", dst)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to close %s", dst)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to move %s into place", dst)
	}
	return nil
}
