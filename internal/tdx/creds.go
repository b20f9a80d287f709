package tdx

import (
	"encoding/json"
	"io"

	"github.com/rusq/encio"
)

// Credentials is the on-disk storage for the Telegram application
// credentials. The file is encrypted with a machine-specific key, so it is
// not portable between devices.
type Credentials struct {
	Filename string
}

type credentials struct {
	ApiID   int    `json:"api_id,omitempty"`
	ApiHash string `json:"api_hash,omitempty"`
}

// IsAvailable reports whether the storage is configured.
func (c Credentials) IsAvailable() bool {
	return c.Filename != ""
}

// Save stores the api_id/api_hash pair in the encrypted file.
func (c Credentials) Save(apiID int, apiHash string) error {
	f, err := encio.Create(c.Filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.write(f, apiID, apiHash)
}

func (c Credentials) write(w io.Writer, apiID int, apiHash string) error {
	return json.NewEncoder(w).Encode(credentials{ApiID: apiID, ApiHash: apiHash})
}

// Load reads the api_id/api_hash pair from the encrypted file.
func (c Credentials) Load() (int, string, error) {
	f, err := encio.Open(c.Filename)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	return c.read(f)
}

func (c Credentials) read(r io.Reader) (int, string, error) {
	var creds credentials
	if err := json.NewDecoder(r).Decode(&creds); err != nil {
		return 0, "", err
	}
	return creds.ApiID, creds.ApiHash, nil
}
