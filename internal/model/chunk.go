package model

type Chunk struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	Digest     string `json:"digest"`
	Mtime      int64  `json:"mtime"`
}

// ChunkDigest identifies the stored content of one chunk without its text.
type ChunkDigest struct {
	Ordinal int
	Digest  string
}
