package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sudooom.im.realtime/internal/model"
)

// Seed 内存目录的初始数据
type Seed struct {
	Users []model.User `yaml:"users"`
}

// LoadSeed 从 YAML 文件读取目录用户
func LoadSeed(path string) ([]model.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed 解析 YAML 种子数据
func ParseSeed(data []byte) ([]model.User, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[int64]struct{}, len(seed.Users))
	for _, u := range seed.Users {
		if u.ID <= 0 {
			return nil, fmt.Errorf("seed user %q has invalid id %d", u.DisplayName, u.ID)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("seed user id %d is duplicated", u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return seed.Users, nil
}
