/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownCard is returned when a name or asset id is not in the deck.
var ErrUnknownCard = errors.New("unknown card")

// ImageExt is appended to an asset id to form the artwork filename.
const ImageExt = ".jpg"

// Resolver maps between display names and asset ids. It is immutable and
// safe for concurrent use.
type Resolver struct {
	byName  map[string]string
	byAsset map[string]string
}

// NewResolver indexes the deck in both directions.
func NewResolver() *Resolver {
	r := &Resolver{
		byName:  make(map[string]string, len(deck)),
		byAsset: make(map[string]string, len(deck)),
	}
	for _, e := range deck {
		r.byName[e.Name] = e.AssetID
		r.byAsset[e.AssetID] = e.Name
	}
	return r
}

// AssetID returns the asset id for a display name.
func (r *Resolver) AssetID(name string) (string, error) {
	id, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: name %q", ErrUnknownCard, name)
	}
	return id, nil
}

// Name returns the display name for an asset id.
func (r *Resolver) Name(assetID string) (string, error) {
	name, ok := r.byAsset[assetID]
	if !ok {
		return "", fmt.Errorf("%w: asset %q", ErrUnknownCard, assetID)
	}
	return name, nil
}

// Image returns the artwork filename for a display name.
func (r *Resolver) Image(name string) (string, error) {
	id, err := r.AssetID(name)
	if err != nil {
		return "", err
	}
	return id + ImageExt, nil
}
