// Package scene defines the scene description submitted for rendering and
// validates it before any scratch resource is touched.
package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Vec3 is a point or direction in scene space, encoded as a 3-element array.
type Vec3 [3]float64

// Material selects how a primitive scatters light.
type Material string

const (
	MaterialLambertian Material = "lambertian"
	MaterialMetal      Material = "metal"
	MaterialDielectric Material = "dielectric"
)

// PrimitiveSphere is the only primitive type the renderer understands.
const PrimitiveSphere = "sphere"

// UpscaleFactor is the scale passed to the post-process stage when upscaling.
const UpscaleFactor = 4

// Primitive is a validated renderable object. Exactly the material-specific
// fields of its Material are set. It encodes with the field names the scene
// editor exports, which are the names the renderer reads.
type Primitive struct {
	Type            string   `json:"type"`
	ID              string   `json:"id"`
	Center          Vec3     `json:"center"`
	Radius          float64  `json:"radius"`
	Material        Material `json:"material"`
	ColorArgs       *Vec3    `json:"color_args,omitempty"`
	Fuzz            *float64 `json:"metal_fuzz,omitempty"`
	RefractionIndex *float64 `json:"dielectric_refraction_index,omitempty"`
}

// Camera holds the render camera and output settings.
type Camera struct {
	AspectRatio     float64 `json:"aspect_ratio"`
	ImageWidth      int     `json:"image_width"`
	SamplesPerPixel int     `json:"samples_per_pixel"`
	MaxDepth        int     `json:"max_depth"`
	VFOV            float64 `json:"vfov"`
	LookFrom        Vec3    `json:"lookfrom"`
	LookAt          Vec3    `json:"lookat"`
	VUp             Vec3    `json:"vup"`
	DefocusAngle    float64 `json:"defocus_angle"`
	FocusDist       float64 `json:"focus_dist"`
	Denoise         int     `json:"denoise"`
	Upscale         bool    `json:"upscale"`
}

// Description is a validated scene, ready to be handed to the renderer.
type Description struct {
	Primitives []Primitive `json:"primitives"`
	Camera     Camera      `json:"camera"`
}

// NeedsPostProcess reports whether the denoise/upscale stage must run.
func (c Camera) NeedsPostProcess() bool {
	return c.Denoise > 0 || c.Upscale
}

// ScaleFactor returns the --scale value for the post-process stage.
func (c Camera) ScaleFactor() int {
	if c.Upscale {
		return UpscaleFactor
	}
	return 0
}

// Encode serializes the scene in the form the renderer reads from its input file.
func (d *Description) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Fingerprint returns a stable hex digest of the scene. Two scenes with the
// same fingerprint produce the same image.
func (d *Description) Fingerprint() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
