// Package mock provides test doubles for the ai.Embedder, ai.VisionOCR and
// ai.ChatModel interfaces.
//
// Defaults are deterministic: the embedder derives vectors from a text hash,
// the OCR double echoes a fixed transcription and the chat double streams a
// canned answer word by word. Each double exposes function fields for custom
// behavior and a call counter.
//
//	emb := mock.NewEmbedder(8)
//	emb.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("boom")
//	}
package mock
