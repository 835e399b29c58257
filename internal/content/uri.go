// internal/content/uri.go

// Package content resolves content-addressed dataset metadata.
package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

const Scheme = "ipfs://"

var ErrInvalidURI = errors.New("invalid content uri")

// URI is a parsed ipfs://<cid>[/path] reference.
type URI struct {
	CID  cid.Cid
	Path string
}

func ParseURI(raw string) (URI, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return URI{}, fmt.Errorf("%w: %q must start with %s", ErrInvalidURI, raw, Scheme)
	}

	rest := strings.TrimPrefix(raw, Scheme)
	root, path, _ := strings.Cut(rest, "/")
	if root == "" {
		return URI{}, fmt.Errorf("%w: %q has no cid", ErrInvalidURI, raw)
	}

	c, err := cid.Decode(root)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	return URI{CID: c, Path: strings.Trim(path, "/")}, nil
}

func (u URI) String() string {
	if u.Path == "" {
		return Scheme + u.CID.String()
	}
	return Scheme + u.CID.String() + "/" + u.Path
}

// GatewayPath is the path of the object under a gateway's /ipfs/ root.
func (u URI) GatewayPath() string {
	if u.Path == "" {
		return "/ipfs/" + u.CID.String()
	}
	return "/ipfs/" + u.CID.String() + "/" + u.Path
}
