package model

// EmbedderInterface converts text into a fixed-length vector. The vector
// length is constant for a given model across the whole corpus.
type EmbedderInterface interface {
	Embed(text string) ([]float32, error)
}
