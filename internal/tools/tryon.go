package tools

import (
	"context"
	"fmt"

	"github.com/farrosalferro/fashion-recommender/internal/imagegen"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

func runTryOn(ctx context.Context, env *Env, sessionID string, args map[string]any) (Output, error) {
	ids, err := stringList(args, "item_image_ids")
	if err != nil {
		return Output{}, err
	}
	if len(ids) == 0 {
		return Output{}, invalidArgs("item_image_ids is empty")
	}

	modelSrc, ok, err := env.Images.ModelImage(sessionID)
	if err != nil {
		return Output{}, err
	}
	if !ok {
		return Output{}, precondition("user has not uploaded their photo yet")
	}
	if env.Generator == nil {
		return Output{}, precondition("virtual try-on is not configured")
	}

	model, err := loadImage(ctx, env, modelSrc)
	if err != nil {
		return Output{}, fmt.Errorf("load model photo: %w", err)
	}
	items := make([]imagegen.Image, 0, len(ids))
	for _, id := range ids {
		src, err := env.sessionImage(sessionID, id)
		if err != nil {
			return Output{}, err
		}
		img, err := loadImage(ctx, env, src)
		if err != nil {
			return Output{}, fmt.Errorf("load image %s: %w", id, err)
		}
		items = append(items, img)
	}

	generated, err := env.Generator.Generate(ctx, model, items)
	if err != nil {
		return Output{}, err
	}

	id, err := env.Images.StoreImage(sessionID, imageref.Source{Path: generated.DataURL()}, false)
	if err != nil {
		return Output{}, fmt.Errorf("store try-on image: %w", err)
	}
	return Output{
		Text:  id,
		Group: &imageref.Group{Kind: imageref.KindVirtualTryOn, ImageIDs: []string{id}},
	}, nil
}

// loadImage fetches and crops src, returning encoded bytes.
func loadImage(ctx context.Context, env *Env, src imageref.Source) (imagegen.Image, error) {
	url, err := env.Loader.DataURL(ctx, src)
	if err != nil {
		return imagegen.Image{}, err
	}
	data, mime, err := imageref.DecodeDataURL(url)
	if err != nil {
		return imagegen.Image{}, err
	}
	return imagegen.Image{Data: data, MIMEType: mime}, nil
}
