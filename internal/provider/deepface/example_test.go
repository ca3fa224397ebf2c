package deepface_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/deepface"
)

func ExampleProvider_DetectAndEmbed() {
	config := deepface.DefaultConfig()
	config.Model = "ArcFace"
	extractor := deepface.NewProvider(config)

	imageBytes, err := os.ReadFile("frame.jpg")
	if err != nil {
		log.Fatal(err)
	}

	faces, err := extractor.DetectAndEmbed(context.Background(), imageBytes)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Detected %d faces\n", len(faces))
	for i, face := range faces {
		fmt.Printf("Face %d: confidence=%.2f, embedding_size=%d\n",
			i, face.Confidence, len(face.Embedding))
	}
}
