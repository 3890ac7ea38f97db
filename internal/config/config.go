// Package config resolves runtime settings the same way across binaries:
// environment variables first, then a phase-scoped YAML file flattened into
// the same key space.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// SimConfig drives the local issuer simulator.
type SimConfig struct {
	ProgramID       solana.PublicKey
	MarginProgramID solana.PublicKey
	BaseDecimals    uint8
	StubPrice       decimal.Decimal
	TargetLeverage  decimal.Decimal
	DepositQuantity uint64
	Log             LogConfig
}

var (
	defaultProgramID       = solana.MustPublicKeyFromBase58("GpMobZUKPtEE1eiZQAADo2ecD54JXhNHPNts5kPGwLtb")
	defaultMarginProgramID = solana.MustPublicKeyFromBase58("4MangoMjqJ2firMokCjjGgoK8d4MXcrgL7XJaL3w6fVg")
)

func LoadSimConfig() (SimConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return SimConfig{}, err
	}

	programID, err := envPubkey("QUASAR_PROGRAM_ID", defaultProgramID)
	if err != nil {
		return SimConfig{}, err
	}
	marginProgramID, err := envPubkey("MARGIN_PROGRAM_ID", defaultMarginProgramID)
	if err != nil {
		return SimConfig{}, err
	}
	baseDecimals, err := envUint8("SIM_BASE_DECIMALS", 6)
	if err != nil {
		return SimConfig{}, err
	}
	stubPrice, err := envDecimal("SIM_STUB_PRICE", "50")
	if err != nil {
		return SimConfig{}, err
	}
	targetLeverage, err := envDecimal("SIM_TARGET_LEVERAGE", "3")
	if err != nil {
		return SimConfig{}, err
	}
	depositQuantity, err := envUint64("SIM_DEPOSIT_QUANTITY", 1_000_000)
	if err != nil {
		return SimConfig{}, err
	}

	return SimConfig{
		ProgramID:       programID,
		MarginProgramID: marginProgramID,
		BaseDecimals:    baseDecimals,
		StubPrice:       stubPrice,
		TargetLeverage:  targetLeverage,
		DepositQuantity: depositQuantity,
		Log:             buildLogConfig("SIM", "quasar-sim"),
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	return LogConfig{
		Level:    envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info")),
		Format:   envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text")),
		Output:   envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console")),
		FilePath: envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".run", serviceName+".log"))),
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envUint8(key string, fallback uint8) (uint8, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint8(v), nil
}

func envDecimal(key string, fallback string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}
		for key, value := range raw {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(segment, value, runtimeConfigValues); err != nil {
				runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
				return
			}
		}
	})
	return runtimeConfigErr
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string, bool, int, int64, uint64, float64:
				parts = append(parts, strings.TrimSpace(fmt.Sprint(scalar)))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}
	return strings.TrimSpace(runtimeConfigValues[key])
}
