// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyproof.
//
// go-keyproof is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package nonce issues the single-use challenge values a holder signs to prove
// possession of a key. Issuance is stateless: the generator keeps no record of
// the values it hands out.
package nonce

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	// DefaultSize is the number of random bytes in a FormatRandom nonce.
	DefaultSize = 32

	// MinSize is the smallest accepted FormatRandom size (128 bits).
	MinSize = 16
)

// Format selects the textual form of issued nonces.
type Format string

const (
	// FormatRandom encodes Size random bytes with unpadded base64url.
	FormatRandom Format = "random"

	// FormatUUID issues RFC 4122 version 4 UUID strings.
	FormatUUID Format = "uuid"
)

var (
	ErrInvalidSize   = errors.New("nonce: invalid size")
	ErrUnknownFormat = errors.New("nonce: unknown format")
)

// Config configures a Generator.
type Config struct {
	// Size is the entropy in bytes for FormatRandom (default: 32)
	Size int

	// Format is the nonce encoding (default: FormatRandom)
	Format Format

	// Reader is the entropy source (default: crypto/rand.Reader)
	Reader io.Reader
}

// Generator mints nonces. It is safe for concurrent use as long as the
// configured Reader is.
type Generator struct {
	size   int
	format Format
	reader io.Reader
}

// New creates a Generator. A nil config yields the defaults.
func New(config *Config) (*Generator, error) {
	if config == nil {
		config = &Config{}
	}

	size := config.Size
	if size == 0 {
		size = DefaultSize
	}
	if size < MinSize {
		return nil, fmt.Errorf("%w: %d bytes (minimum %d)", ErrInvalidSize, size, MinSize)
	}

	format := config.Format
	if format == "" {
		format = FormatRandom
	}
	if format != FormatRandom && format != FormatUUID {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	reader := config.Reader
	if reader == nil {
		reader = rand.Reader
	}

	return &Generator{
		size:   size,
		format: format,
		reader: reader,
	}, nil
}

// Default returns a Generator with the default configuration.
func Default() *Generator {
	g, _ := New(nil)
	return g
}

// Issue returns a fresh nonce. The system CSPRNG does not fail, so neither
// does Issue; a broken custom Reader panics.
func (g *Generator) Issue() string {
	if g.format == FormatUUID {
		id, err := uuid.NewRandomFromReader(g.reader)
		if err != nil {
			panic(fmt.Sprintf("nonce: entropy source failed: %v", err))
		}
		return id.String()
	}

	buf := make([]byte, g.size)
	if _, err := io.ReadFull(g.reader, buf); err != nil {
		panic(fmt.Sprintf("nonce: entropy source failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Format returns the configured nonce format.
func (g *Generator) Format() Format {
	return g.format
}
