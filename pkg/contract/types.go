package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Magic: ParrotLabel 文件格式魔数（file_format.magic 必须与之相等）。
const Magic = "43a04f6d-f95b-41da-8b92-f4c9f859d3fb"

// Document: 已解析、已校验魔数的标注文档。
// 约束：
// - FileFormat.Magic == Magic；
// - Labels 存在（可为空序列）；
// - 解码后只读，核心流程不回写。
type Document struct {
	FileFormat FileFormat   `json:"file_format"`
	Config     *DocConfig   `json:"config,omitempty"`
	Labels     []ImageEntry `json:"labels"`
}

// FileFormat: 文件格式标记。
type FileFormat struct {
	Magic string `json:"magic"`
}

// DocConfig: 文档内可选配置。
type DocConfig struct {
	ImageDirBasePath string `json:"image_dir_base_path"`
}

// ImageBasePath 返回文档内声明的图片根目录（未声明为空）。
func (d *Document) ImageBasePath() string {
	if d == nil || d.Config == nil {
		return ""
	}
	return d.Config.ImageDirBasePath
}

// ImageEntry: 单张图片的标注。
// ImagePath 为 nil 表示字段缺失（与空字符串区分）。
type ImageEntry struct {
	ImagePath *string `json:"image_path,omitempty"`
	BoxList   []Box   `json:"box_list,omitempty"`
}

// Path 返回 image_path 及其是否存在。
func (e ImageEntry) Path() (string, bool) {
	if e.ImagePath == nil {
		return "", false
	}
	return *e.ImagePath, true
}

// Box: 以图片宽高比例表示的矩形框。取值不做 [0,1] 校验，原样透传。
type Box struct {
	LeftPct   float64 `json:"leftPct"`
	TopPct    float64 `json:"topPct"`
	WidthPct  float64 `json:"widthPct"`
	HeightPct float64 `json:"heightPct"`
	Label     string  `json:"label"`
}

// Entry: 过滤后保留的图片条目（已解析出完整路径，box 非空）。
type Entry struct {
	// ImagePath: 文档中的原始路径（写入 image/filename 与 image/source_id）。
	ImagePath string
	// FullPath: 以图片根目录拼接后的路径（用于读取）。
	FullPath string
	Boxes    []Box
}
