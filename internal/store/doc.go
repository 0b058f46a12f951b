// Package store defines the disk-backed named stores that hold captured
// upstream responses. Each bucket directory embeds the gateway version in its
// name so that activation can enumerate and delete stores left behind by
// previous versions. Entries pair a body file with a JSON metadata sidecar
// (status, headers, capture timestamp) written via temp file + rename, and
// the Put boundary enforces the "only 2xx responses are ever stored" rule so
// no strategy can violate it.
package store
