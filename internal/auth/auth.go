// Package auth resolves API credentials and checks the Gemini key.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/cinema-sync/internal/config"
)

const credentialDir = ".cinema-sync"

// Credential names where a secret may be found: an environment variable,
// then a GPG-encrypted file under ~/.cinema-sync.
type Credential struct {
	Name   string
	EnvVar string
	File   string
}

var (
	Gemini = Credential{Name: "Gemini API key", EnvVar: "GEMINI_API_KEY", File: "gemini.gpg"}
	TMDB   = Credential{Name: "TMDB API key", EnvVar: "TMDB_API_KEY", File: "tmdb.gpg"}
)

// GetAPIKey returns the credential's value. The error wraps
// config.ErrMissingConfiguration when no source holds it.
func GetAPIKey(c Credential) (string, error) {
	if key := strings.TrimSpace(os.Getenv(c.EnvVar)); key != "" {
		log.Debug().Str("credential", c.Name).Msg("Using credential from environment variable")
		return key, nil
	}

	key, err := getFromGPG(c.File)
	if err == nil && key != "" {
		log.Debug().Str("credential", c.Name).Msg("Using credential from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Str("credential", c.Name).Msg("Credential not found")
	return "", fmt.Errorf("%w: %s not found, set %s or store it in ~/%s/%s",
		config.ErrMissingConfiguration, c.Name, c.EnvVar, credentialDir, c.File)
}

func getFromGPG(file string) (string, error) {
	credPath, err := credentialPath(file)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	args := []string{"--decrypt", "--quiet"}

	// A passphrase file allows unattended decryption. It must be owner-only.
	if passphrasePath, ok := passphraseFile(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}

	args = append(args, credPath)
	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func credentialPath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, file), nil
}

// passphraseFile looks for ~/.cinema-sync/.gpg-passphrase.
func passphraseFile() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(home, credentialDir, ".gpg-passphrase")
	fi, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("passphrase_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		return "", false
	}
	return path, true
}
