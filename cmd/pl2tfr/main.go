package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/tidwall/sjson"

	cfgpkg "pl2tfr/internal/config"
	"pl2tfr/internal/diag"
	"pl2tfr/internal/pipeline"
)

var pipelineRun = pipeline.Run

// CLI：位置参数为标注文件/目录（或 "-" 表示 STDIN，不能与其他根混用）。
// 优先级：CLI > ENV(.env) > 配置文件 > 默认值。
// 退出码：0 成功；1 运行期失败；3 配置/校验失败。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level 与目录
	logger := diag.NewLoggerDir(corrID, "info", cfgpkg.Defaults().Logging.Dir)
	defer func() { _ = logger.Close() }()

	var (
		flagConfig        string
		flagImages        string
		flagTFRecords     string
		flagValTFRecords  string
		flagValPct        int
		flagLabelMap      string
		flagLabelMapSeed  string
		flagNormalization string
		flagShuffleSeed   uint64
		flagLogLevel      string
		flagInitDir       string
		flagInspect       string
		flagStatus        bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagImages, "images", "", "图片根目录（必须存在）；缺省按标注文件推导")
	flag.StringVar(&flagTFRecords, "tfrecords", "", "训练集 TFRecord 输出文件")
	flag.StringVar(&flagValTFRecords, "validation-tfrecords", "", "验证集 TFRecord 输出文件；设置后启用切分")
	// validation-pct 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.IntVar(&flagValPct, "validation-pct", -1, "验证集比例 [1,99]；启用切分且未指定时为 20")
	flag.StringVar(&flagLabelMap, "labelmap", "", "标签映射 (.pbtxt) 输出文件")
	flag.StringVar(&flagLabelMapSeed, "labelmap-seed", "", "既有标签映射；保留其 id，新标签顺延")
	flag.StringVar(&flagNormalization, "label-normalization", "", "标签 Unicode 归一化：nfc | nfkc")
	flag.Uint64Var(&flagShuffleSeed, "shuffle-seed", 0, "洗牌随机种子；0 表示每次随机")
	flag.StringVar(&flagLogLevel, "log-level", "", "日志级别：debug | info | warn | error")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖）；不带值时默认当前目录")
	flag.StringVar(&flagInspect, "inspect", "", "读取 TFRecord 文件，校验并逐条输出 JSON 摘要后退出")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	flag.Parse()

	roots := flag.Args()

	// --inspect: 只读检查后退出
	if p := strings.TrimSpace(flagInspect); p != "" {
		if err := inspect(afero.NewOsFs(), os.Stdout, p); err != nil {
			fprintf(os.Stderr, "检查失败: %v\n", err)
			logger.ErrorWith("inspect", string(diag.Classify(err)), "inspect failed", &start, p)
			return 1
		}
		return 0
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		b, err := templateJSON(roots, flagTFRecords, flagValTFRecords, flagLabelMap)
		if err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			return 3
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), b); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		// 生成 .env 模板（不覆盖已存在文件）。
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	// 配置来源：--config > PL2TFR_CONFIG_JSON > PL2TFR_CONFIG_FILE > ./config.json
	var cfgJSON []byte
	if flagConfig == "" {
		if s := os.Getenv("PL2TFR_CONFIG_JSON"); s != "" {
			cfgJSON = []byte(s)
		} else {
			flagConfig = os.Getenv("PL2TFR_CONFIG_FILE")
		}
	}
	// 默认读取工作目录下 config.json（若存在）
	if flagConfig == "" && len(cfgJSON) == 0 {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	overCLI := cfgpkg.Unset()
	overCLI.Inputs = roots
	overCLI.Images = flagImages
	overCLI.TFRecords = flagTFRecords
	overCLI.ValidationTFRecords = flagValTFRecords
	overCLI.LabelMap = flagLabelMap
	overCLI.LabelMapSeed = flagLabelMapSeed
	overCLI.LabelNormalization = flagNormalization
	overCLI.ShuffleSeed = flagShuffleSeed
	overCLI.Logging.Level = flagLogLevel
	if flagValPct >= 0 {
		overCLI.ValidationPercent = flagValPct
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置中的日志级别与目录重建 logger
	_ = logger.Close()
	logger = diag.NewLoggerDir(corrID, cfg.Logging.Level, cfg.Logging.Dir)

	comp, set, err := cfgpkg.Assemble(cfg, nil)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(len(cfg.Inputs))

	logger.Debug("config", "effective", "", map[string]string{
		"inputs_count":         strconv.Itoa(len(cfg.Inputs)),
		"images":               cfg.Images,
		"tfrecords":            cfg.TFRecords,
		"validation_tfrecords": cfg.ValidationTFRecords,
		"validation_percent":   strconv.Itoa(set.ValidationPercent),
		"labelmap":             cfg.LabelMap,
		"labelmap_seed":        cfg.LabelMapSeed,
		"label_normalization":  cfg.LabelNormalization,
		"seeded":               strconv.FormatBool(cfg.ShuffleSeed != 0),
		"reader":               cfg.Components.Reader,
		"decoder":              cfg.Components.Decoder,
		"writer":               cfg.Components.Writer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		// 分类到最接近的退出码（运行期错误）
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return 1
	}
	t.Finish("run", int64(sum.Documents))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	term.Summary(sum.Totals())
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

// templateJSON 渲染默认模板，并用命令行给出的输入/输出路径替换对应键。
func templateJSON(roots []string, tfrecords, valTFRecords, labelmap string) ([]byte, error) {
	b, err := json.MarshalIndent(cfgpkg.DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, err
	}
	set := func(path string, v any) {
		if err != nil {
			return
		}
		b, err = sjson.SetBytes(b, path, v)
	}
	if len(roots) > 0 {
		set("inputs", roots)
	}
	if s := strings.TrimSpace(tfrecords); s != "" {
		set("tfrecords", s)
	}
	if s := strings.TrimSpace(valTFRecords); s != "" {
		set("validation_tfrecords", s)
	}
	if s := strings.TrimSpace(labelmap); s != "" {
		set("labelmap", s)
	}
	return b, err
}

func writeConfig(path string, b []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

func genCorrID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
// - 仅按首个 '=' 分割；成对的单/双引号会被去除，双引号内处理 \n \t \r \" \\；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := unquote(strings.TrimSpace(line[eq+1:]))
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# pl2tfr .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("PL2TFR_CONFIG_FILE=\n")
	b.WriteString("PL2TFR_CONFIG_JSON=\n\n")

	b.WriteString("# 输入输出\n")
	for _, k := range []string{"INPUTS", "IMAGES", "TFRECORDS", "VALIDATION_TFRECORDS", "VALIDATION_PERCENT", "LABELMAP"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 标签与随机\n")
	for _, k := range []string{"LABELMAP_SEED", "LABEL_NORMALIZATION", "SHUFFLE_SEED"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 日志\n")
	b.WriteString(cfgpkg.EnvPrefix + "LOG_LEVEL=\n")
	b.WriteString(cfgpkg.EnvPrefix + "LOG_DIR=\n\n")

	b.WriteString("# 组件选择与选项（原样 JSON）\n")
	for _, c := range []string{"READER", "DECODER", "WRITER"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + c + "=\n")
	}
	for _, c := range []string{"READER", "DECODER", "WRITER"} {
		b.WriteString(cfgpkg.EnvPrefix + "OPTIONS_" + c + "_JSON=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
