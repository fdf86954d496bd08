package webdav

import (
	"crypto/md5"
	"encoding/hex"
	"io"
)

func md5Stream(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func md5String(s string) (string, error) {
	h := md5.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)), nil
}
