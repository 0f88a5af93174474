// Package frameworks maps a framework tag to the static configuration the
// platform needs: training/serving image, entry command, serving port, and
// per-framework hyperparameter names. Selection is a table lookup; no
// framework carries behavior.
package frameworks

import (
	"fmt"
	"strings"
)

type Framework string

const (
	PyTorch     Framework = "pytorch"
	TensorFlow  Framework = "tensorflow"
	SKLearn     Framework = "sklearn"
	XGBoost     Framework = "xgboost"
	HuggingFace Framework = "huggingface"
	Custom      Framework = "custom"
)

// Config is pure data; every field is fixed per framework.
type Config struct {
	// ImageTemplate expands with (framework version, python version).
	ImageTemplate  string
	ServingPort    int32
	DefaultCommand []string
	Env            map[string]string

	// HyperparameterNames maps canonical names to what the framework's
	// training container actually reads.
	HyperparameterNames map[string]string
}

var table = map[Framework]Config{
	PyTorch: {
		ImageTemplate:  "registry.mlforge.dev/pytorch-training:%s-%s",
		ServingPort:    8080,
		DefaultCommand: []string{"python3", "-m", "torch_serving.entrypoint"},
		Env:            map[string]string{"FORGE_FRAMEWORK": "pytorch"},
		HyperparameterNames: map[string]string{
			"learning_rate": "lr",
			"batch_size":    "batch-size",
			"epochs":        "epochs",
		},
	},
	TensorFlow: {
		ImageTemplate:  "registry.mlforge.dev/tensorflow-training:%s-%s",
		ServingPort:    8501,
		DefaultCommand: []string{"python3", "-m", "tf_container.serve"},
		Env:            map[string]string{"FORGE_FRAMEWORK": "tensorflow"},
		HyperparameterNames: map[string]string{
			"learning_rate": "learning-rate",
			"batch_size":    "batch-size",
			"epochs":        "num-epochs",
		},
	},
	SKLearn: {
		ImageTemplate:  "registry.mlforge.dev/sklearn-training:%s-%s",
		ServingPort:    8080,
		DefaultCommand: []string{"python3", "-m", "sklearn_container.serving"},
		Env:            map[string]string{"FORGE_FRAMEWORK": "sklearn"},
		HyperparameterNames: map[string]string{
			"learning_rate": "learning_rate",
			"batch_size":    "batch_size",
			"epochs":        "max_iter",
		},
	},
	XGBoost: {
		ImageTemplate:  "registry.mlforge.dev/xgboost-training:%s-%s",
		ServingPort:    8080,
		DefaultCommand: []string{"python3", "-m", "xgboost_container.serve"},
		Env:            map[string]string{"FORGE_FRAMEWORK": "xgboost"},
		HyperparameterNames: map[string]string{
			"learning_rate": "eta",
			"batch_size":    "batch_size",
			"epochs":        "num_round",
		},
	},
	HuggingFace: {
		ImageTemplate:  "registry.mlforge.dev/huggingface-training:%s-%s",
		ServingPort:    8080,
		DefaultCommand: []string{"python3", "-m", "hf_container.serving"},
		Env:            map[string]string{"FORGE_FRAMEWORK": "huggingface"},
		HyperparameterNames: map[string]string{
			"learning_rate": "learning_rate",
			"batch_size":    "per_device_train_batch_size",
			"epochs":        "num_train_epochs",
		},
	},
	Custom: {
		ImageTemplate: "%s",
		ServingPort:   8080,
	},
}

// Parse normalizes a framework tag. Unknown tags are an error, not Custom:
// callers opt into Custom explicitly.
func Parse(s string) (Framework, error) {
	f := Framework(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[f]; !ok {
		return "", fmt.Errorf("unknown framework %q", s)
	}
	return f, nil
}

func Lookup(f Framework) (Config, error) {
	cfg, ok := table[f]
	if !ok {
		return Config{}, fmt.Errorf("unknown framework %q", f)
	}
	return cfg, nil
}

// Image expands the framework's image template. For Custom the framework
// version is taken verbatim as the full image reference.
func (c Config) Image(frameworkVersion, pythonVersion string) string {
	if c.ImageTemplate == "%s" {
		return frameworkVersion
	}
	if frameworkVersion == "" {
		frameworkVersion = "latest"
	}
	if pythonVersion == "" {
		pythonVersion = "py3"
	}
	return fmt.Sprintf(c.ImageTemplate, frameworkVersion, pythonVersion)
}

// MapHyperparameters rewrites canonical hyperparameter names to the
// framework's own. Names without a mapping pass through unchanged.
func (c Config) MapHyperparameters(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if mapped, ok := c.HyperparameterNames[k]; ok {
			out[mapped] = v
			continue
		}
		out[k] = v
	}
	return out
}
