package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// GlobalConfig 全局配置单例
// 在调用 LoadConfig 成功后，该变量会被填充，后续模块直接读取即可
var (
	GlobalConfig *AppConfig
	loadOnce     sync.Once
)

// LoadConfig 加载配置
// configPath: 配置文件路径 (e.g., "/etc/docforensics/config.yaml")
// 传入空字符串时在默认路径搜索，搜索不到则使用内置默认值
func LoadConfig(configPath string) error {
	var err error

	loadOnce.Do(func() {
		v := viper.New()

		setDefaults(v)

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("/etc/docforensics/")
			v.AddConfigPath(".")
		}

		// 环境变量覆盖: DFS_SCAN_TIMEOUT -> scan.timeout
		v.SetEnvPrefix("DFS")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, notFound := readErr.(viper.ConfigFileNotFoundError); !notFound {
				err = fmt.Errorf("读取配置文件失败: %v", readErr)
				return
			}
			// 扫描工具允许无配置文件运行，全部走默认值
			if configPath != "" {
				err = fmt.Errorf("配置文件不存在: %v", readErr)
				return
			}
		}

		var config AppConfig
		if err = v.Unmarshal(&config); err != nil {
			err = fmt.Errorf("解析配置失败: %v", err)
			return
		}

		GlobalConfig = &config
	})

	return err
}

// setDefaults 内置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.log_stdout", true)

	v.SetDefault("scan.calibration_file", "")
	v.SetDefault("scan.timeout", "30s")
	v.SetDefault("scan.max_file_size", int64(256)<<20)
	v.SetDefault("scan.workers", 4)

	v.SetDefault("output.format", "text")
	v.SetDefault("output.color", true)
	v.SetDefault("output.verbose", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9402")
}

// Get 获取配置的安全访问器
func Get() *AppConfig {
	if GlobalConfig == nil {
		panic("Config not initialized! Call LoadConfig() first.")
	}
	return GlobalConfig
}
