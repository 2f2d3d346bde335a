// Package parser 将原始字节解析为只读的结构视图
// 每个解析器都是纯函数：同样的字节得到同样的视图，不持有共享状态
package parser

import (
	"docForensics/internal/forgery/model"
)

// View 结构视图。解析完成后不再修改，
// 同一视图可被多个检测项并发只读访问
type View interface {
	// DocType 返回视图对应的文档类型
	DocType() model.DocumentType
}

// 解析防护上限，内部声明尺寸超出该倍数即判定结构不一致
const (
	maxDeclaredSizeRatio = 200         // ZIP 条目声明尺寸与输入字节数之比上限
	maxEntryBytes        = 256 << 20   // 单个条目解压上限
	maxImagePixels       = 50_000_000  // 像素数上限（防解压炸弹）
)
