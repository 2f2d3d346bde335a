package config

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
)

// =========================================================================
// 编译时注入变量 (Build-Time Variables)
// 通过 -ldflags -X 修改
// =========================================================================

var (
	// Version 软件版本
	Version string = "00000000_DevBuild"

	// CommitID Git 提交哈希
	CommitID string = "HEAD"

	// BuildTime 编译时间
	BuildTime string = "Unknown"
)

// =========================================================================
// 运行时标识
// =========================================================================

var (
	instanceID   string
	identityOnce sync.Once
)

// InstanceID 返回本机实例标识。
// 基于主机标识计算，同一台机器上的重复扫描可据此关联。
func InstanceID() string {
	identityOnce.Do(func() {
		hostID, err := host.HostID()
		if err != nil || hostID == "" {
			instanceID = "unknown"
			return
		}
		sum := sha256.Sum256([]byte(hostID))
		instanceID = hex.EncodeToString(sum[:8])
	})
	return instanceID
}

// HostDescription 返回主机概要 (平台与内核版本)，用于报告头
func HostDescription() string {
	info, err := host.Info()
	if err != nil {
		return "unknown"
	}
	return info.Platform + " " + info.PlatformVersion + " / " + info.KernelVersion
}
