package entities

// Chunk is a bounded-size slice of an audio stream produced for transcription.
type Chunk struct {
	Index    int
	FileName string
	Size     int
	Data     []byte
}
