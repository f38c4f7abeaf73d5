// Package version 提供存储版本号的解析、比较以及迁移路径解析功能
package version

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrInvalidVersionFormat 版本号格式非法错误
	ErrInvalidVersionFormat = errors.New("invalid version format")
)

// Version 存储版本号，由 major.minor.patch 三个非负整数组成
type Version struct {
	Major uint64 `json:"major"`
	Minor uint64 `json:"minor"`
	Patch uint64 `json:"patch"`
}

// Parse 解析版本号字符串
// 只接受形如 "1.2.3" 的完整三段式版本号，带预发布或构建元信息的版本号视为非法
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version string", ErrInvalidVersionFormat)
	}
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersionFormat, s, err)
	}
	// 存储版本空间只使用纯数字三元组
	if v.Prerelease() != "" || v.Metadata() != "" {
		return Version{}, fmt.Errorf("%w: %q: prerelease/metadata not allowed", ErrInvalidVersionFormat, s)
	}
	return Version{Major: v.Major(), Minor: v.Minor(), Patch: v.Patch()}, nil
}

// MustParse 解析版本号字符串，失败时panic，仅用于常量定义与测试
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String 返回 "major.minor.patch" 形式的字符串
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare 按 (major, minor, patch) 字典序比较两个版本号
// 返回 -1、0、1 分别表示 v 小于、等于、大于 other
func (v Version) Compare(other Version) int {
	a := semver.New(v.Major, v.Minor, v.Patch, "", "")
	b := semver.New(other.Major, other.Minor, other.Patch, "", "")
	return a.Compare(b)
}

// Equal 判断两个版本号是否相等
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// Less 判断 v 是否小于 other
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}
