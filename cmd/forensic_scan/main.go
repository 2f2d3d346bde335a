// Package main 文档伪造检测命令行工具
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"docForensics/internal/config"
	"docForensics/internal/forgery"
	fconfig "docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/logger"
)

// ==========================================
// 命令行参数
// ==========================================

var (
	configPath      string
	calibrationPath string
	outputFormat    string
	verbose         bool
	noColor         bool
	workers         int
	timeoutSec      int
	metricsAddr     string
)

func main() {
	root := &cobra.Command{
		Use:   "forensic_scan [files...]",
		Short: "多格式文档伪造检测工具",
		Long: `对 Word/Excel/纯文本/图片/PDF 文档执行伪造痕迹检测，
输出指标清单与整体风险评级。`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScan,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	root.Flags().StringVar(&calibrationPath, "calibration", "", "校准参数文件 (JSON)")
	root.Flags().StringVarP(&outputFormat, "format", "f", "", "输出格式: text, json")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "输出指标佐证数据")
	root.Flags().BoolVar(&noColor, "no-color", false, "禁用彩色输出")
	root.Flags().IntVarP(&workers, "workers", "w", 0, "并发扫描数 (默认取配置)")
	root.Flags().IntVarP(&timeoutSec, "timeout", "t", 0, "单份文档超时秒数")
	root.Flags().StringVar(&metricsAddr, "metrics-listen", "", "指标端点监听地址")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("forensic_scan %s (commit %s, built %s)\n",
				config.Version, config.CommitID, config.BuildTime)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// ==========================================
// 扫描流程
// ==========================================

type scanOutput struct {
	File   string                `json:"file"`
	Result *model.AnalysisResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := config.LoadConfig(configPath); err != nil {
		return err
	}
	cfg := config.Get()

	if err := logger.Setup(logger.Options{
		Level:    cfg.App.LogLevel,
		FilePath: cfg.App.LogFile,
		Stdout:   cfg.App.LogStdout && verbose,
	}); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer logger.Sync()

	cal, err := loadCalibration(cfg)
	if err != nil {
		return err
	}
	if timeoutSec > 0 {
		cal.Timeout = time.Duration(timeoutSec) * time.Second
	}

	engine := forgery.New(forgery.WithCalibration(cal))

	if addr := resolveMetricsAddr(cfg); addr != "" {
		go serveMetrics(addr, engine)
	}

	if noColor {
		color.NoColor = true
	} else if !cfg.Output.Color {
		color.NoColor = true
	}

	format := cfg.Output.Format
	if outputFormat != "" {
		format = outputFormat
	}

	outputs := scanFiles(engine, cfg, args)

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}

	printHeader(len(args))
	for _, out := range outputs {
		printTextResult(out, verbose || cfg.Output.Verbose)
	}
	return nil
}

// scanFiles 按配置的并发度扫描全部文件，输出保持入参顺序
func scanFiles(engine *forgery.Engine, cfg *config.AppConfig, files []string) []scanOutput {
	n := cfg.Scan.Workers
	if workers > 0 {
		n = workers
	}
	if n < 1 {
		n = 1
	}

	outputs := make([]scanOutput, len(files))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs[i] = scanOne(engine, cfg, files[i])
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outputs
}

func scanOne(engine *forgery.Engine, cfg *config.AppConfig, path string) scanOutput {
	out := scanOutput{File: path}

	info, err := os.Stat(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if cfg.Scan.MaxFileSize > 0 && info.Size() > cfg.Scan.MaxFileSize {
		out.Error = fmt.Sprintf("文件大小 %d 超出上限 %d", info.Size(), cfg.Scan.MaxFileSize)
		return out
	}

	data, err := os.ReadFile(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	result, err := engine.Analyze(context.Background(), data, filepath.Ext(path))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Result = result
	return out
}

func loadCalibration(cfg *config.AppConfig) (*fconfig.Calibration, error) {
	path := cfg.Scan.CalibrationFile
	if calibrationPath != "" {
		path = calibrationPath
	}

	if path == "" {
		cal := fconfig.DefaultCalibration()
		if cfg.Scan.Timeout > 0 {
			cal.Timeout = cfg.Scan.Timeout
		}
		return cal, nil
	}
	cal, err := fconfig.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("加载校准参数失败: %w", err)
	}
	return cal, nil
}

func resolveMetricsAddr(cfg *config.AppConfig) string {
	if metricsAddr != "" {
		return metricsAddr
	}
	if cfg.Metrics.Enable {
		return cfg.Metrics.ListenAddr
	}
	return ""
}

func serveMetrics(addr string, engine *forgery.Engine) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		engine.Metrics().Gatherer(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("指标端点退出", "addr", addr, "err", err)
	}
}

// ==========================================
// 文本输出
// ==========================================

func printHeader(fileCount int) {
	bold := color.New(color.Bold)
	bold.Println("=== 文档伪造检测 ===")
	fmt.Printf("主机:     %s\n", config.HostDescription())
	fmt.Printf("实例:     %s\n", config.InstanceID())
	fmt.Printf("文件数:   %d\n", fileCount)
	fmt.Println()
}

func printTextResult(out scanOutput, showEvidence bool) {
	bold := color.New(color.Bold)
	bold.Printf("%s\n", out.File)

	if out.Error != "" {
		color.Red("  扫描失败: %s\n", out.Error)
		fmt.Println()
		return
	}

	r := out.Result
	fmt.Printf("  类型: %s  风险: %s  置信度: %.2f  耗时: %s\n",
		r.DocumentType, severityColor(r.OverallRisk)(r.OverallRisk.String()),
		r.ConfidenceScore, r.ProcessTime.Round(time.Millisecond))
	if r.HasError() {
		color.Yellow("  注意: %s\n", r.Error)
	}

	if len(r.Indicators) == 0 {
		color.Green("  未发现伪造痕迹\n")
		fmt.Println()
		return
	}

	for _, ind := range r.Indicators {
		fmt.Printf("  [%s] %s (%.2f) %s\n",
			severityColor(ind.Severity)(ind.Severity.String()),
			ind.Kind, ind.Confidence, ind.Description)
		if showEvidence && len(ind.Evidence) > 0 {
			keys := make([]string, 0, len(ind.Evidence))
			for k := range ind.Evidence {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("      %s: %s\n", k, ind.Evidence[k])
			}
		}
	}
	fmt.Println()
}

func severityColor(s model.Severity) func(a ...interface{}) string {
	switch s {
	case model.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case model.SeverityHigh:
		return color.New(color.FgRed).SprintFunc()
	case model.SeverityMedium:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgGreen).SprintFunc()
	}
}
