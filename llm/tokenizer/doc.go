// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于上游未返回用量时估算补全用量。
package tokenizer
