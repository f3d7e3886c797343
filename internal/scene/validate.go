package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"rayforge/internal/pkg/errors"
)

// InvalidInputMessage is the client-facing message of every validation error.
const InvalidInputMessage = "Invalid input"

// rawScene mirrors the wire format with pointers so absent fields can be
// told apart from zero values.
type rawScene struct {
	Primitives *[]rawPrimitive `json:"primitives"`
	Camera     *rawCamera      `json:"camera"`
}

type rawPrimitive struct {
	Type      *string   `json:"type"`
	ID        *string   `json:"id"`
	Center    []float64 `json:"center"`
	Radius    *float64  `json:"radius"`
	Material  *string   `json:"material"`
	ColorArgs []float64 `json:"color_args"`

	Fuzz      *float64 `json:"fuzz"`
	MetalFuzz *float64 `json:"metal_fuzz"`

	RefractionIndex           *float64 `json:"refraction_index"`
	DielectricRefractionIndex *float64 `json:"dielectric_refraction_index"`
}

type rawCamera struct {
	AspectRatio     *float64  `json:"aspect_ratio"`
	ImageWidth      *int      `json:"image_width"`
	SamplesPerPixel *int      `json:"samples_per_pixel"`
	MaxDepth        *int      `json:"max_depth"`
	VFOV            *float64  `json:"vfov"`
	LookFrom        []float64 `json:"lookfrom"`
	LookAt          []float64 `json:"lookat"`
	VUp             []float64 `json:"vup"`
	DefocusAngle    *float64  `json:"defocus_angle"`
	FocusDist       *float64  `json:"focus_dist"`
	Denoise         *int      `json:"denoise"`
	Upscale         *bool     `json:"upscale"`
}

// Validate decodes payload and checks it field by field. It has no side
// effects; any failure yields a single VALIDATION_ERROR whose fields name the
// offending path and the reason.
func Validate(payload []byte) (*Description, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalid("$", "payload must be a JSON object")
	}

	var raw rawScene
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidation, "scene.decode", InvalidInputMessage)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, invalid("$", "unexpected data after JSON object")
	}

	if raw.Primitives == nil {
		return nil, invalid("primitives", "is required")
	}
	if len(*raw.Primitives) == 0 {
		return nil, invalid("primitives", "must not be empty")
	}

	d := &Description{Primitives: make([]Primitive, 0, len(*raw.Primitives))}
	seen := make(map[string]struct{}, len(*raw.Primitives))
	for i, rp := range *raw.Primitives {
		p, err := validatePrimitive(fmt.Sprintf("primitives[%d]", i), rp)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.ID]; dup {
			return nil, invalid(fmt.Sprintf("primitives[%d].id", i), "duplicate id "+p.ID)
		}
		seen[p.ID] = struct{}{}
		d.Primitives = append(d.Primitives, p)
	}

	if raw.Camera == nil {
		return nil, invalid("camera", "is required")
	}
	cam, err := validateCamera(*raw.Camera)
	if err != nil {
		return nil, err
	}
	d.Camera = cam

	return d, nil
}

func validatePrimitive(path string, rp rawPrimitive) (Primitive, error) {
	p := Primitive{Type: PrimitiveSphere}

	if rp.Type != nil && *rp.Type != PrimitiveSphere {
		return p, invalid(path+".type", "unsupported primitive "+*rp.Type)
	}

	if rp.ID == nil || strings.TrimSpace(*rp.ID) == "" {
		return p, invalid(path+".id", "is required")
	}
	p.ID = *rp.ID

	center, err := vec3(path+".center", rp.Center)
	if err != nil {
		return p, err
	}
	p.Center = center

	if rp.Radius == nil {
		return p, invalid(path+".radius", "is required")
	}
	if *rp.Radius <= 0 {
		return p, invalid(path+".radius", "must be > 0")
	}
	p.Radius = *rp.Radius

	if rp.Material == nil {
		return p, invalid(path+".material", "is required")
	}
	p.Material = Material(*rp.Material)

	fuzz, err := oneOf(path+".fuzz", rp.Fuzz, rp.MetalFuzz)
	if err != nil {
		return p, err
	}
	ior, err := oneOf(path+".refraction_index", rp.RefractionIndex, rp.DielectricRefractionIndex)
	if err != nil {
		return p, err
	}

	switch p.Material {
	case MaterialLambertian, MaterialMetal:
		if ior != nil {
			return p, invalid(path+".refraction_index", "not allowed for "+string(p.Material))
		}
		color, err := vec3(path+".color_args", rp.ColorArgs)
		if err != nil {
			return p, err
		}
		for i, c := range color {
			if c < 0 || c > 1 {
				return p, invalid(fmt.Sprintf("%s.color_args[%d]", path, i), "must be in [0,1]")
			}
		}
		p.ColorArgs = &color

		if p.Material == MaterialLambertian {
			if fuzz != nil {
				return p, invalid(path+".fuzz", "not allowed for lambertian")
			}
			break
		}
		if fuzz == nil {
			return p, invalid(path+".fuzz", "is required for metal")
		}
		if *fuzz < 0 || *fuzz > 1 {
			return p, invalid(path+".fuzz", "must be in [0,1]")
		}
		p.Fuzz = fuzz

	case MaterialDielectric:
		if rp.ColorArgs != nil {
			return p, invalid(path+".color_args", "not allowed for dielectric")
		}
		if fuzz != nil {
			return p, invalid(path+".fuzz", "not allowed for dielectric")
		}
		if ior == nil {
			return p, invalid(path+".refraction_index", "is required for dielectric")
		}
		if *ior < 1 {
			return p, invalid(path+".refraction_index", "must be >= 1")
		}
		p.RefractionIndex = ior

	default:
		return p, invalid(path+".material", "unknown material "+string(p.Material))
	}

	return p, nil
}

func validateCamera(rc rawCamera) (Camera, error) {
	var c Camera

	if rc.AspectRatio == nil {
		return c, invalid("camera.aspect_ratio", "is required")
	}
	if *rc.AspectRatio <= 0 {
		return c, invalid("camera.aspect_ratio", "must be > 0")
	}
	c.AspectRatio = *rc.AspectRatio

	ints := []struct {
		field string
		v     *int
		dst   *int
	}{
		{"camera.image_width", rc.ImageWidth, &c.ImageWidth},
		{"camera.samples_per_pixel", rc.SamplesPerPixel, &c.SamplesPerPixel},
		{"camera.max_depth", rc.MaxDepth, &c.MaxDepth},
	}
	for _, f := range ints {
		if f.v == nil {
			return c, invalid(f.field, "is required")
		}
		if *f.v <= 0 {
			return c, invalid(f.field, "must be > 0")
		}
		*f.dst = *f.v
	}

	if rc.VFOV == nil {
		return c, invalid("camera.vfov", "is required")
	}
	if *rc.VFOV <= 0 || *rc.VFOV >= 180 {
		return c, invalid("camera.vfov", "must be in (0,180) degrees")
	}
	c.VFOV = *rc.VFOV

	var err error
	if c.LookFrom, err = vec3("camera.lookfrom", rc.LookFrom); err != nil {
		return c, err
	}
	if c.LookAt, err = vec3("camera.lookat", rc.LookAt); err != nil {
		return c, err
	}
	if c.LookFrom == c.LookAt {
		return c, invalid("camera.lookat", "must differ from lookfrom")
	}
	if c.VUp, err = vec3("camera.vup", rc.VUp); err != nil {
		return c, err
	}
	if c.VUp == (Vec3{}) {
		return c, invalid("camera.vup", "must not be the zero vector")
	}

	if rc.DefocusAngle == nil {
		return c, invalid("camera.defocus_angle", "is required")
	}
	if *rc.DefocusAngle < 0 {
		return c, invalid("camera.defocus_angle", "must be >= 0")
	}
	c.DefocusAngle = *rc.DefocusAngle

	if rc.FocusDist == nil {
		return c, invalid("camera.focus_dist", "is required")
	}
	if *rc.FocusDist <= 0 {
		return c, invalid("camera.focus_dist", "must be > 0")
	}
	c.FocusDist = *rc.FocusDist

	// The editor omits both when post-processing is off.
	if rc.Denoise != nil {
		if *rc.Denoise < 0 {
			return c, invalid("camera.denoise", "must be >= 0")
		}
		c.Denoise = *rc.Denoise
	}
	if rc.Upscale != nil {
		c.Upscale = *rc.Upscale
	}

	return c, nil
}

func vec3(field string, v []float64) (Vec3, error) {
	if v == nil {
		return Vec3{}, invalid(field, "is required")
	}
	if len(v) != 3 {
		return Vec3{}, invalid(field, fmt.Sprintf("must have 3 components, got %d", len(v)))
	}
	return Vec3{v[0], v[1], v[2]}, nil
}

// oneOf accepts a field under its canonical name or the editor's legacy alias,
// but not both.
func oneOf(field string, canonical, alias *float64) (*float64, error) {
	if canonical != nil && alias != nil {
		return nil, invalid(field, "given twice under different names")
	}
	if canonical != nil {
		return canonical, nil
	}
	return alias, nil
}

func invalid(field, reason string) *errors.Error {
	return errors.ValidationField(field, InvalidInputMessage).WithField("reason", reason)
}
