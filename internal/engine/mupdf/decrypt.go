package mupdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errWrongPassword = errors.New("wrong password")

// decrypt returns an unencrypted copy of the PDF in data, trying password as
// both the user and the owner password.
func decrypt(data []byte, password string) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, conf); err != nil {
		if errors.Is(err, pdfcpu.ErrWrongPassword) {
			return nil, errWrongPassword
		}
		return nil, fmt.Errorf("failed to decrypt document: %w", err)
	}
	return out.Bytes(), nil
}
